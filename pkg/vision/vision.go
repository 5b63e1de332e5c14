// Package vision holds the default frame preprocessing and motion
// comparison used by the capture loop. Both are plain functions so callers
// can swap in their own implementation.
package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
)

// PreprocessFunc converts a raw frame into the form compared for motion.
type PreprocessFunc func(frame image.Image) *image.Gray

// MotionFunc reports whether current differs from baseline by a region
// larger than minArea pixels, counting only pixel deltas above threshold.
type MotionFunc func(baseline, current *image.Gray, threshold float64, minArea int) bool

// Preprocessor returns a PreprocessFunc that converts to grayscale and
// applies a box blur of the given radius.
func Preprocessor(blurRadius int) PreprocessFunc {
	return func(frame image.Image) *image.Gray {
		return BoxBlur(Grayscale(frame), blurRadius)
	}
}

// Grayscale converts img to an 8-bit gray image with origin at (0,0).
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if src, ok := img.(*image.Gray); ok {
		draw.Draw(gray, gray.Bounds(), src, b.Min, draw.Src)
		return gray
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			gray.SetGray(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray))
		}
	}
	return gray
}

// BoxBlur averages each pixel over a (2r+1)x(2r+1) window using a
// separable two-pass sum. A radius below 1 returns src unchanged.
func BoxBlur(src *image.Gray, radius int) *image.Gray {
	if radius < 1 {
		return src
	}
	w, h := src.Rect.Dx(), src.Rect.Dy()
	tmp := make([]uint8, w*h)
	dst := image.NewGray(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w]
		for x := 0; x < w; x++ {
			lo, hi := clamp(x-radius, 0, w-1), clamp(x+radius, 0, w-1)
			sum := 0
			for i := lo; i <= hi; i++ {
				sum += int(row[i])
			}
			tmp[y*w+x] = uint8(sum / (hi - lo + 1))
		}
	}
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			lo, hi := clamp(y-radius, 0, h-1), clamp(y+radius, 0, h-1)
			sum := 0
			for i := lo; i <= hi; i++ {
				sum += int(tmp[i*w+x])
			}
			dst.Pix[y*dst.Stride+x] = uint8(sum / (hi - lo + 1))
		}
	}
	return dst
}

// HasMotion thresholds the absolute difference of two frames, dilates the
// mask twice, and reports whether any 8-connected region exceeds minArea.
// Frames of different sizes always count as motion.
func HasMotion(baseline, current *image.Gray, threshold float64, minArea int) bool {
	if baseline == nil || current == nil {
		return false
	}
	w, h := current.Rect.Dx(), current.Rect.Dy()
	if baseline.Rect.Dx() != w || baseline.Rect.Dy() != h {
		return true
	}

	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := int(baseline.Pix[y*baseline.Stride+x])
			b := int(current.Pix[y*current.Stride+x])
			d := a - b
			if d < 0 {
				d = -d
			}
			mask[y*w+x] = float64(d) > threshold
		}
	}
	mask = dilate(mask, w, h)
	mask = dilate(mask, w, h)

	return largestRegion(mask, w, h, minArea) > minArea
}

func dilate(mask []bool, w, h int) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !mask[y*w+x] {
				continue
			}
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx >= 0 && nx < w && ny >= 0 && ny < h {
						out[ny*w+nx] = true
					}
				}
			}
		}
	}
	return out
}

// largestRegion flood-fills the mask and returns the largest region size,
// stopping early once a region exceeds stopAt.
func largestRegion(mask []bool, w, h, stopAt int) int {
	seen := make([]bool, len(mask))
	stack := make([]int, 0, 64)
	best := 0
	for start, on := range mask {
		if !on || seen[start] {
			continue
		}
		size := 0
		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			size++
			px, py := p%w, p/w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := px+dx, py+dy
					if nx < 0 || nx >= w || ny < 0 || ny >= h {
						continue
					}
					n := ny*w + nx
					if mask[n] && !seen[n] {
						seen[n] = true
						stack = append(stack, n)
					}
				}
			}
		}
		if size > best {
			best = size
			if best > stopAt {
				return best
			}
		}
	}
	return best
}

// EncodeJPEG encodes img at the given quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
