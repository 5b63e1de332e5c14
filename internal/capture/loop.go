// Package capture runs the camera sampling loop on its own goroutine and
// hands detected motion events to the dispatch loop for persistence.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/motionwatch/internal/dispatch"
	"github.com/your-org/motionwatch/internal/model"
	"github.com/your-org/motionwatch/pkg/detector"
	"github.com/your-org/motionwatch/pkg/framesource"
	"github.com/your-org/motionwatch/pkg/vision"
)

// ErrStopped is returned by Start once the loop has stopped.
var ErrStopped = errors.New("capture loop stopped")

// State is the lifecycle position of a Loop.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateSampling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateSampling:
		return "sampling"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Submitter runs a task on the dispatch goroutine and waits for it.
type Submitter interface {
	Submit(ctx context.Context, task dispatch.Task) error
}

// EventSink builds and persists motion events.
type EventSink interface {
	CreateMotionEvent(source, message string) *model.Event
	PersistEvent(ctx context.Context, ev *model.Event, snapshot []byte) (*model.Event, error)
}

// Params wires a Loop.
type Params struct {
	Source    framesource.Source
	Submitter Submitter
	Events    EventSink
	// Detector is optional; nil disables object detection.
	Detector   detector.Detector
	Preprocess vision.PreprocessFunc
	Motion     vision.MotionFunc
	Logger     *zap.Logger

	SourceName            string
	Message               string
	FrameInterval         time.Duration
	RetryDelay            time.Duration
	Threshold             float64
	MinArea               int
	BaselineRefreshFrames int
	JPEGQuality           int
}

type Loop struct {
	source    framesource.Source
	submitter Submitter
	events    EventSink
	detector  detector.Detector
	prep      vision.PreprocessFunc
	motion    vision.MotionFunc
	logger    *zap.Logger

	sourceName    string
	message       string
	interval      time.Duration
	retryDelay    time.Duration
	threshold     float64
	minArea       int
	refreshFrames int
	quality       int

	state atomic.Int32

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
	stopped sync.Once

	frameMu sync.RWMutex
	latest  []byte
}

// New validates params and returns an idle Loop.
func New(p Params) (*Loop, error) {
	if p.Source == nil {
		return nil, errors.New("frame source is required")
	}
	if p.Submitter == nil {
		return nil, errors.New("submitter is required")
	}
	if p.Events == nil {
		return nil, errors.New("event sink is required")
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if p.Preprocess == nil {
		p.Preprocess = vision.Preprocessor(10)
	}
	if p.Motion == nil {
		p.Motion = vision.HasMotion
	}
	if p.SourceName == "" {
		p.SourceName = "laptop_cam"
	}
	if p.Message == "" {
		p.Message = "Laptop camera detected motion"
	}
	if p.FrameInterval <= 0 {
		p.FrameInterval = time.Second
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = time.Second
	}
	if p.BaselineRefreshFrames <= 0 {
		p.BaselineRefreshFrames = 150
	}
	if p.JPEGQuality <= 0 {
		p.JPEGQuality = 85
	}

	return &Loop{
		source:        p.Source,
		submitter:     p.Submitter,
		events:        p.Events,
		detector:      p.Detector,
		prep:          p.Preprocess,
		motion:        p.Motion,
		logger:        logger.Named("capture"),
		sourceName:    p.SourceName,
		message:       p.Message,
		interval:      p.FrameInterval,
		retryDelay:    p.RetryDelay,
		threshold:     p.Threshold,
		minArea:       p.MinArea,
		refreshFrames: p.BaselineRefreshFrames,
		quality:       p.JPEGQuality,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

// LatestFrame returns the JPEG of the most recently read frame.
func (l *Loop) LatestFrame() ([]byte, bool) {
	l.frameMu.RLock()
	defer l.frameMu.RUnlock()
	return l.latest, l.latest != nil
}

// Start launches the sampling goroutine. Calling it again while running is
// a no-op; calling it after Stop returns ErrStopped.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.State() == StateStopped {
		return ErrStopped
	}
	if l.started {
		return nil
	}
	l.started = true
	l.state.Store(int32(StateStarting))
	go l.run(ctx)
	l.logger.Info("capture loop launched", zap.String("source", l.sourceName))
	return nil
}

// Stop signals the loop and waits up to timeout for it to release the source.
func (l *Loop) Stop(timeout time.Duration) error {
	l.mu.Lock()
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	if !l.started {
		l.started = true
		l.markStopped()
		close(l.done)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("capture loop did not stop within %s", timeout)
	}
}

func (l *Loop) markStopped() {
	l.stopped.Do(func() {
		l.state.Store(int32(StateStopped))
	})
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	defer l.markStopped()

	stream, err := l.source.Open(ctx)
	if err != nil {
		l.logger.Warn("could not open frame source; capture disabled", zap.Error(err))
		return
	}
	defer func() {
		if err := stream.Release(); err != nil {
			l.logger.Warn("release frame source", zap.Error(err))
		}
		l.logger.Info("capture loop stopped")
	}()

	l.state.Store(int32(StateSampling))

	var (
		baseline  *image.Gray
		stillRuns int
	)
	for !l.stopping(ctx) {
		frame, err := stream.Read(ctx)
		if err != nil {
			if errors.Is(err, framesource.ErrEndOfStream) {
				l.logger.Info("frame source ended")
				return
			}
			l.logger.Debug("failed to read frame; retrying", zap.Error(err))
			l.sleep(ctx, l.retryDelay)
			continue
		}

		encoded, err := vision.EncodeJPEG(frame.Image, l.quality)
		if err != nil {
			l.logger.Debug("failed to encode frame", zap.Error(err))
		} else {
			l.frameMu.Lock()
			l.latest = encoded
			l.frameMu.Unlock()
		}

		processed := l.prep(frame.Image)
		if baseline == nil {
			baseline = processed
			l.sleep(ctx, l.interval)
			continue
		}

		if l.motion(baseline, processed, l.threshold, l.minArea) {
			baseline = processed
			stillRuns = 0
			l.handleMotion(ctx, frame, encoded)
		} else {
			stillRuns++
			if stillRuns >= l.refreshFrames {
				baseline = processed
				stillRuns = 0
			}
		}

		l.sleep(ctx, l.interval)
	}
}

func (l *Loop) handleMotion(ctx context.Context, frame framesource.Frame, snapshot []byte) {
	ev := l.events.CreateMotionEvent(l.sourceName, l.message)
	captured := frame.CapturedAt
	ev.FrameTimestamp = &captured

	if l.detector != nil {
		dets, err := l.detector.Detect(ctx, frame.Image)
		if err != nil {
			l.logger.Warn("object detection failed; continuing without detections", zap.Error(err))
			dets = []model.Detection{}
		}
		ev.Detections = dets
		if len(dets) > 0 {
			ev.Message = l.message + ": " + detector.Describe(dets)
		}
	}

	err := l.submitter.Submit(ctx, func(ctx context.Context) error {
		_, err := l.events.PersistEvent(ctx, ev, snapshot)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrNotRunning), errors.Is(err, dispatch.ErrStopped):
		l.logger.Warn("dispatch loop unavailable; motion event skipped", zap.Error(err))
	default:
		l.logger.Error("failed to record motion event", zap.Error(err))
	}
}

func (l *Loop) stopping(ctx context.Context) bool {
	select {
	case <-l.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-l.stop:
	case <-ctx.Done():
	}
}
