// Package validation содержит функции валидации входных данных.
package validation

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/painter-loyalty/internal/model"
)

const (
	// MaxIntegerDigits ограничивает число цифр целой части денежных сумм.
	MaxIntegerDigits = 15
	// MaxPriceScale ограничивает число знаков после запятой в цене.
	MaxPriceScale = 8
	// MaxAmountScale ограничивает число знаков после запятой в комиссии и выводе.
	// Комиссия с цены MaxPriceScale при ставке с MaxRateScale знаками в него укладывается.
	MaxAmountScale = 18
	// MaxRateScale ограничивает число знаков после запятой в ставке комиссии.
	MaxRateScale = MaxAmountScale - MaxPriceScale
)

const (
	serialLetters = 3
	serialDigits  = 7
	serialLength  = serialLetters + serialDigits
)

// IsValidSerialNumber проверяет, что номер состоит из трёх латинских букв и семи цифр.
func IsValidSerialNumber(number string) bool {
	if len(number) != serialLength {
		return false
	}

	for i := 0; i < serialLength; i++ {
		ch := number[i]
		if i < serialLetters {
			if !(ch >= 'A' && ch <= 'Z' || ch >= 'a' && ch <= 'z') {
				return false
			}
			continue
		}
		if ch < '0' || ch > '9' {
			return false
		}
	}

	return true
}

// SerialNumber возвращает ErrInvalidFormat для некорректного номера.
func SerialNumber(number string) error {
	if !IsValidSerialNumber(number) {
		return fmt.Errorf("%w: %q", model.ErrInvalidFormat, number)
	}
	return nil
}

// WithinBounds сообщает, укладывается ли значение в maxIntegerDigits цифр целой
// части и maxScale знаков дробной. Незначащие нули дробной части не учитываются.
// Проверка не раскрывает показатель степени, поэтому значения вида 1e50000000
// отклоняются без вычислений над большими числами.
func WithinBounds(d decimal.Decimal, maxIntegerDigits, maxScale int) bool {
	if d.IsZero() {
		return true
	}

	exp := int64(d.Exponent())
	digits := int64(d.NumDigits())
	if digits+exp > int64(maxIntegerDigits) {
		return false
	}
	if exp >= -int64(maxScale) {
		return true
	}

	shift := -exp - int64(maxScale)
	if shift >= digits {
		return false
	}
	pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(shift), nil)
	return new(big.Int).Mod(d.Coefficient(), pow).Sign() == 0
}

// Price возвращает ErrInvalidPrice, если цена не положительна или выходит за допустимую точность.
func Price(price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: must be positive", model.ErrInvalidPrice)
	}
	if !WithinBounds(price, MaxIntegerDigits, MaxPriceScale) {
		return fmt.Errorf("%w: at most %d integer digits and %d decimal places", model.ErrInvalidPrice, MaxIntegerDigits, MaxPriceScale)
	}
	return nil
}

// Amount возвращает ErrInvalidAmount, если сумма не положительна или выходит за допустимую точность.
func Amount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be positive", model.ErrInvalidAmount)
	}
	if !WithinBounds(amount, MaxIntegerDigits, MaxAmountScale) {
		return fmt.Errorf("%w: at most %d integer digits and %d decimal places", model.ErrInvalidAmount, MaxIntegerDigits, MaxAmountScale)
	}
	return nil
}
