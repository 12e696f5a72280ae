package model

import (
	"errors"
	"fmt"
)

// Виды ошибок ядра. Все ошибки, кроме ErrStoreUnavailable, окончательны для запроса.
var (
	ErrInvalidFormat       = errors.New("invalid serial number format")
	ErrInvalidPrice        = errors.New("price must be positive")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrDuplicateSerial     = errors.New("serial already exists")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyConsumed     = errors.New("serial already consumed")
	ErrInsufficientBalance = errors.New("insufficient pending balance")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

var (
	// ErrSerialNotFound возвращается, если серийный номер отсутствует.
	ErrSerialNotFound = fmt.Errorf("serial %w", ErrNotFound)
	// ErrPainterNotFound возвращается, если маляр отсутствует.
	ErrPainterNotFound = fmt.Errorf("painter %w", ErrNotFound)
)

// Kind описывает класс ошибки, передаваемый клиенту.
type Kind string

const (
	KindInvalidFormat       Kind = "InvalidFormat"
	KindInvalidPrice        Kind = "InvalidPrice"
	KindInvalidAmount       Kind = "InvalidAmount"
	KindDuplicateSerial     Kind = "DuplicateSerial"
	KindNotFound            Kind = "NotFound"
	KindAlreadyConsumed     Kind = "AlreadyConsumed"
	KindInsufficientBalance Kind = "InsufficientBalance"
	KindStoreUnavailable    Kind = "StoreUnavailable"
	KindInternal            Kind = "Internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidFormat, KindInvalidFormat},
	{ErrInvalidPrice, KindInvalidPrice},
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrDuplicateSerial, KindDuplicateSerial},
	{ErrNotFound, KindNotFound},
	{ErrAlreadyConsumed, KindAlreadyConsumed},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrStoreUnavailable, KindStoreUnavailable},
}

// KindOf классифицирует ошибку. Неизвестные ошибки относятся к KindInternal.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Retryable сообщает, имеет ли смысл повторить запрос.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
