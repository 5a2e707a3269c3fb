// Package clipboard hands snippet expansions to the operating system clipboard.
package clipboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/atotto/clipboard"
	"go.uber.org/zap"
)

// ErrClipboardUnavailable is returned when the platform has no usable clipboard utility.
var ErrClipboardUnavailable = errors.New("clipboard: unavailable")

// Paster writes expansions to the system clipboard.
type Paster struct {
	write       func(string) error
	unsupported bool
	logger      *zap.Logger
}

// NewPaster returns a Paster backed by the system clipboard.
func NewPaster(logger *zap.Logger) *Paster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paster{
		write:       clipboard.WriteAll,
		unsupported: clipboard.Unsupported,
		logger:      logger,
	}
}

// Paste places text on the clipboard.
func (p *Paster) Paste(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.unsupported {
		return ErrClipboardUnavailable
	}
	if err := p.write(text); err != nil {
		p.logger.Warn("clipboard write failed", zap.Error(err))
		return fmt.Errorf("clipboard: write: %w", err)
	}
	p.logger.Debug("expansion copied to clipboard", zap.Int("length", len(text)))
	return nil
}
