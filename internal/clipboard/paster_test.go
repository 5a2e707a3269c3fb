package clipboard

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestPasteWritesText(t *testing.T) {
	var written string
	paster := &Paster{
		write: func(text string) error {
			written = text
			return nil
		},
		logger: zap.NewNop(),
	}

	if err := paster.Paste(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if written != "user@example.com" {
		t.Fatalf("unexpected clipboard contents %q", written)
	}
}

func TestPasteReportsUnsupportedPlatform(t *testing.T) {
	paster := &Paster{
		write: func(string) error {
			t.Fatalf("write must not be called when unsupported")
			return nil
		},
		unsupported: true,
		logger:      zap.NewNop(),
	}

	if err := paster.Paste(context.Background(), "text"); !errors.Is(err, ErrClipboardUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestPasteWrapsWriteFailure(t *testing.T) {
	cause := errors.New("xclip missing")
	paster := &Paster{
		write:  func(string) error { return cause },
		logger: zap.NewNop(),
	}

	if err := paster.Paste(context.Background(), "text"); !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestPasteHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	paster := &Paster{
		write: func(string) error {
			t.Fatalf("write must not be called after cancellation")
			return nil
		},
		logger: zap.NewNop(),
	}

	if err := paster.Paste(ctx, "text"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
