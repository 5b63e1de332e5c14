// Package framesource provides the frame sources the capture loop polls.
package framesource

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// ErrEndOfStream is returned by Read once a stream has no more frames.
var ErrEndOfStream = errors.New("end of stream")

// Frame is one decoded image plus the instant it was read.
type Frame struct {
	Image      image.Image
	CapturedAt time.Time
}

// Source opens a stream of frames.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open handle on a source. Release must be called exactly once.
type Stream interface {
	Read(ctx context.Context) (Frame, error)
	Release() error
}

// Config selects and configures a Source.
type Config struct {
	Kind    string
	URL     string
	Width   int
	Height  int
	Timeout time.Duration
}

// New builds the Source named by cfg.Kind.
func New(cfg Config) (Source, error) {
	switch cfg.Kind {
	case "synthetic", "":
		return NewSynthetic(cfg.Width, cfg.Height), nil
	case "http", "snapshot":
		if cfg.URL == "" {
			return nil, errors.New("http frame source requires a URL")
		}
		return NewHTTPSnapshot(cfg.URL, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported frame source: %s", cfg.Kind)
	}
}
