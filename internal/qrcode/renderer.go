// Package qrcode формирует изображения QR-кодов для серийных номеров.
package qrcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	qr "github.com/skip2/go-qrcode"
)

// DefaultSize задаёт сторону изображения в пикселях.
const DefaultSize = 256

// Renderer сохраняет PNG-изображения QR-кодов в каталог.
type Renderer struct {
	dir   string
	size  int
	level qr.RecoveryLevel
}

// NewRenderer создаёт Renderer, сохраняющий изображения в dir.
func NewRenderer(dir string) *Renderer {
	return &Renderer{
		dir:   dir,
		size:  DefaultSize,
		level: qr.Medium,
	}
}

// Render кодирует серийный номер и возвращает путь к созданному файлу.
func (r *Renderer) Render(ctx context.Context, serialNumber string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create qr dir: %w", err)
	}

	path := filepath.Join(r.dir, filepath.Base(serialNumber)+".png")
	if err := qr.WriteFile(serialNumber, r.level, r.size, path); err != nil {
		return "", fmt.Errorf("write qr code: %w", err)
	}

	return path, nil
}
