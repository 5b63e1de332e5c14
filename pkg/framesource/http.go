package framesource

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"
)

// HTTPSnapshot polls a camera's still-image URL; each Read is one GET.
type HTTPSnapshot struct {
	url    string
	client *http.Client
}

func NewHTTPSnapshot(url string, timeout time.Duration) *HTTPSnapshot {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSnapshot{url: url, client: &http.Client{Timeout: timeout}}
}

// Open probes the URL once so an unreachable camera fails at startup.
func (h *HTTPSnapshot) Open(ctx context.Context) (Stream, error) {
	st := &httpStream{src: h}
	if _, err := st.Read(ctx); err != nil {
		return nil, fmt.Errorf("open snapshot source: %w", err)
	}
	return st, nil
}

type httpStream struct {
	src *HTTPSnapshot
}

func (st *httpStream) Read(ctx context.Context) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, st.src.url, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("build snapshot request: %w", err)
	}
	resp, err := st.src.client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Frame{}, fmt.Errorf("snapshot returned status %d", resp.StatusCode)
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return Frame{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return Frame{Image: img, CapturedAt: time.Now().UTC()}, nil
}

func (st *httpStream) Release() error {
	st.src.client.CloseIdleConnections()
	return nil
}
