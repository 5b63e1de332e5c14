package framesource

import (
	"context"
	"image"
	"image/color"
	"math/rand/v2"
	"sync"
	"time"
)

// Synthetic generates a flat background with a block that jumps to a new
// position every few frames, so the default motion detector fires periodically.
type Synthetic struct {
	width, height int
	// Every controls how many frames pass between block moves.
	Every int
}

func NewSynthetic(width, height int) *Synthetic {
	if width <= 0 {
		width = 320
	}
	if height <= 0 {
		height = 240
	}
	return &Synthetic{width: width, height: height, Every: 10}
}

func (s *Synthetic) Open(ctx context.Context) (Stream, error) {
	return &syntheticStream{src: s}, nil
}

type syntheticStream struct {
	src *Synthetic

	mu       sync.Mutex
	seq      int
	x, y     int
	released bool
}

func (st *syntheticStream) Read(ctx context.Context) (Frame, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.released {
		return Frame{}, ErrEndOfStream
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	w, h := st.src.width, st.src.height
	size := min(w, h) / 3
	every := st.src.Every
	if every <= 0 {
		every = 10
	}
	if st.seq%every == 0 {
		st.x = rand.IntN(max(1, w-size))
		st.y = rand.IntN(max(1, h-size))
	}
	st.seq++

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	bg := color.RGBA{R: 40, G: 40, B: 48, A: 255}
	fg := color.RGBA{R: 230, G: 200, B: 60, A: 255}
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			c := bg
			if px >= st.x && px < st.x+size && py >= st.y && py < st.y+size {
				c = fg
			}
			img.SetRGBA(px, py, c)
		}
	}
	return Frame{Image: img, CapturedAt: time.Now().UTC()}, nil
}

func (st *syntheticStream) Release() error {
	st.mu.Lock()
	st.released = true
	st.mu.Unlock()
	return nil
}
