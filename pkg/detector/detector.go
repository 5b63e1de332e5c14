// Package detector talks to an HTTP object-detection service.
//
// The service receives a JPEG body and answers with pixel-space boxes:
//
//	{"predictions":[{"class_id":0,"label":"person","confidence":0.91,"box":[x1,y1,x2,y2]}]}
//
// Results are filtered, normalised to the frame and trimmed here so callers
// always see the same shape regardless of the model behind the endpoint.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/your-org/motionwatch/internal/model"
	"github.com/your-org/motionwatch/pkg/vision"
)

// Detector returns the objects found in a frame, best first.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]model.Detection, error)
}

type Config struct {
	Endpoint      string
	Timeout       time.Duration
	MinConfidence float64
	MaxDetections int
	JPEGQuality   int
	// Labels maps class ids to names when the service omits them.
	Labels map[int]string
}

type HTTPDetector struct {
	cfg    Config
	client *http.Client
}

func NewHTTP(cfg Config) (*HTTPDetector, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("detector endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxDetections <= 0 {
		cfg.MaxDetections = 3
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}
	return &HTTPDetector{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

type prediction struct {
	ClassID    *int      `json:"class_id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box"`
}

type response struct {
	Predictions []prediction `json:"predictions"`
}

func (d *HTTPDetector) Detect(ctx context.Context, frame image.Image) ([]model.Detection, error) {
	if frame == nil {
		return []model.Detection{}, nil
	}
	body, err := vision.EncodeJPEG(frame, d.cfg.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call detector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}

	b := frame.Bounds()
	return d.normalise(out.Predictions, b.Dx(), b.Dy()), nil
}

func (d *HTTPDetector) normalise(preds []prediction, width, height int) []model.Detection {
	dets := make([]model.Detection, 0, len(preds))
	for _, p := range preds {
		if p.Confidence < d.cfg.MinConfidence {
			continue
		}
		det := model.Detection{
			Label:      d.label(p),
			Confidence: clamp(p.Confidence),
		}
		if len(p.Box) == 4 && width > 0 && height > 0 {
			w, h := float64(width), float64(height)
			det.BBox = &model.BoundingBox{
				X1: clamp(p.Box[0] / w),
				Y1: clamp(p.Box[1] / h),
				X2: clamp(p.Box[2] / w),
				Y2: clamp(p.Box[3] / h),
			}
		}
		dets = append(dets, det)
	}

	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })
	if len(dets) > d.cfg.MaxDetections {
		dets = dets[:d.cfg.MaxDetections]
	}
	return dets
}

func (d *HTTPDetector) label(p prediction) string {
	if p.Label != "" {
		return p.Label
	}
	if p.ClassID == nil {
		return "unknown"
	}
	if name, ok := d.cfg.Labels[*p.ClassID]; ok {
		return name
	}
	return fmt.Sprintf("class_%d", *p.ClassID)
}

func clamp(v float64) float64 {
	return max(0, min(1, v))
}

// Describe renders detections as "person (91%), dog (40%)".
func Describe(dets []model.Detection) string {
	parts := make([]string, 0, len(dets))
	for _, d := range dets {
		parts = append(parts, fmt.Sprintf("%s (%.0f%%)", d.Label, d.Confidence*100))
	}
	return strings.Join(parts, ", ")
}
