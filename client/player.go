package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// Player receives synthesized speech. Play is called on its own goroutine
// and never blocks text rendering.
type Player interface {
	Play(ctx context.Context, audio []byte, format string) error
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(ctx context.Context, audio []byte, format string) error

// Play implements Player.
func (f PlayerFunc) Play(ctx context.Context, audio []byte, format string) error {
	return f(ctx, audio, format)
}

// DiscardPlayer drops all audio.
type DiscardPlayer struct{}

// Play implements Player.
func (DiscardPlayer) Play(context.Context, []byte, string) error { return nil }

// FilePlayer writes every clip to Dir as reply-<n>.<format> so an external
// program can play it.
type FilePlayer struct {
	Dir string
	n   atomic.Int64
}

// Play implements Player.
func (p *FilePlayer) Play(_ context.Context, audio []byte, format string) error {
	if format == "" {
		format = "mp3"
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return err
	}
	name := filepath.Join(p.Dir, fmt.Sprintf("reply-%03d.%s", p.n.Add(1), format))
	return os.WriteFile(name, audio, 0o600)
}
