// Package motion orchestrates the event pipeline: it builds and persists
// motion events, attaches snapshots, fans them out and queues notifications.
package motion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/motionwatch/internal/model"
	"github.com/your-org/motionwatch/pkg/storage/eventstore"
)

const defaultMessage = "Simulated motion detected"

// EventStore is the durable record the service writes through.
type EventStore interface {
	Insert(ctx context.Context, ev *model.Event) (int64, error)
	UpdateSnapshot(ctx context.Context, id int64, path, thumbnailURL string) error
	ListRecent(ctx context.Context, limit int) ([]model.Event, error)
	SnapshotPath(ctx context.Context, id int64) (string, bool, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, purge eventstore.PurgeFunc) (int64, []string, error)
}

// BlobStore holds snapshot images.
type BlobStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Broadcaster fans a message out to live subscribers. It is only called from
// the dispatch goroutine.
type Broadcaster interface {
	Broadcast(message any) error
}

// Notifier accepts high-severity events without blocking.
type Notifier interface {
	Enqueue(ev model.Event) bool
}

// Params wires a Service. Blobs and Notifier are optional.
type Params struct {
	Store    EventStore
	Blobs    BlobStore
	Hub      Broadcaster
	Notifier Notifier
	Logger   *zap.Logger

	Sources          []string
	Zones            []string
	Severities       []string
	HighSeverity     string
	PlaceholderURL   string
	DefaultLimit     int
	RetentionDays    int
	SnapshotRoute    string
	SnapshotKeyspace string

	Now  func() time.Time
	Rand *rand.Rand
}

// Service is the event pipeline entry point.
type Service struct {
	store    EventStore
	blobs    BlobStore
	hub      Broadcaster
	notifier Notifier
	logger   *zap.Logger
	tracer   trace.Tracer

	sources       []string
	zones         []string
	severities    []string
	high          string
	placeholder   string
	defaultLimit  int
	retentionDays int
	snapshotRoute string
	keyspace      string

	now    func() time.Time
	randMu sync.Mutex
	rnd    *rand.Rand
}

// NewService constructs a Service, filling unset params with defaults.
func NewService(p Params) (*Service, error) {
	if p.Store == nil {
		return nil, errors.New("event store is required")
	}
	if p.Hub == nil {
		return nil, errors.New("broadcast hub is required")
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(p.Sources) == 0 {
		p.Sources = []string{"test-cam-1", "test-cam-2", "simulated-ai"}
	}
	if len(p.Zones) == 0 {
		p.Zones = []string{"Front Door", "Backyard", "Driveway", "Garage", "Living Room"}
	}
	if len(p.Severities) == 0 {
		p.Severities = []string{"low", "medium", "high"}
	}
	if p.HighSeverity == "" {
		p.HighSeverity = "high"
	}
	if p.DefaultLimit <= 0 {
		p.DefaultLimit = 200
	}
	if p.SnapshotRoute == "" {
		p.SnapshotRoute = "/api/event-snapshot/"
	}
	if p.SnapshotKeyspace == "" {
		p.SnapshotKeyspace = "snapshots"
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Rand == nil {
		p.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return &Service{
		store:         p.Store,
		blobs:         p.Blobs,
		hub:           p.Hub,
		notifier:      p.Notifier,
		logger:        logger.Named("motion"),
		tracer:        otel.Tracer("github.com/your-org/motionwatch/internal/motion"),
		sources:       p.Sources,
		zones:         p.Zones,
		severities:    p.Severities,
		high:          p.HighSeverity,
		placeholder:   p.PlaceholderURL,
		defaultLimit:  p.DefaultLimit,
		retentionDays: p.RetentionDays,
		snapshotRoute: p.SnapshotRoute,
		keyspace:      p.SnapshotKeyspace,
		now:           p.Now,
		rnd:           p.Rand,
	}, nil
}

// DefaultLimit is the window FetchMotionEvents uses when none is given.
func (s *Service) DefaultLimit() int {
	return s.defaultLimit
}

// CreateMotionEvent builds an unpersisted event. An empty source is picked at
// random from the configured sources; severity and zone are always random.
func (s *Service) CreateMotionEvent(source, message string) *model.Event {
	s.randMu.Lock()
	if source == "" {
		source = s.sources[s.rnd.IntN(len(s.sources))]
	}
	severity := s.severities[s.rnd.IntN(len(s.severities))]
	zone := s.zones[s.rnd.IntN(len(s.zones))]
	s.randMu.Unlock()

	if message == "" {
		message = defaultMessage
	}
	return &model.Event{
		Timestamp:    s.now().UTC(),
		Source:       source,
		Message:      message,
		Severity:     severity,
		Zone:         zone,
		ThumbnailURL: s.placeholder,
	}
}

// PersistEvent stores ev, attaches the snapshot if given, broadcasts the
// result and queues a notification for high-severity events. A snapshot
// that cannot be written is logged and the event goes out without it.
//
// It broadcasts through the hub and so must run on the dispatch goroutine.
func (s *Service) PersistEvent(ctx context.Context, ev *model.Event, snapshot []byte) (*model.Event, error) {
	if ev == nil {
		return nil, errors.New("event is required")
	}
	ctx, span := s.tracer.Start(ctx, "motion.persist_event", trace.WithAttributes(
		attribute.String("event.source", ev.Source),
		attribute.String("event.severity", ev.Severity),
	))
	defer span.End()

	if ev.Detections == nil {
		ev.Detections = []model.Detection{}
	}

	id, err := s.store.Insert(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return nil, fmt.Errorf("persist motion event: %w", err)
	}
	ev.ID = id
	span.SetAttributes(attribute.Int64("event.id", id))

	if len(snapshot) > 0 {
		s.attachSnapshot(ctx, ev, snapshot)
	}

	if err := s.hub.Broadcast(model.MotionMessage(ev.Clone())); err != nil {
		s.logger.Error("broadcast motion event", zap.Int64("event_id", id), zap.Error(err))
	}

	if ev.HasSeverity(s.high) && s.notifier != nil {
		s.notifier.Enqueue(*ev)
	}

	s.logger.Debug("motion event persisted",
		zap.Int64("event_id", id),
		zap.String("source", ev.Source),
		zap.String("severity", ev.Severity),
	)
	return ev, nil
}

func (s *Service) attachSnapshot(ctx context.Context, ev *model.Event, snapshot []byte) {
	if s.blobs == nil {
		s.logger.Warn("snapshot dropped: no blob store configured", zap.Int64("event_id", ev.ID))
		return
	}
	key := s.SnapshotKey(ev.ID)
	meta := map[string]string{
		"content_type": "image/jpeg",
		"event_id":     strconv.FormatInt(ev.ID, 10),
	}
	if err := s.blobs.Put(ctx, key, bytes.NewReader(snapshot), int64(len(snapshot)), meta); err != nil {
		s.logger.Error("write event snapshot", zap.Int64("event_id", ev.ID), zap.String("key", key), zap.Error(err))
		return
	}

	url := s.snapshotRoute + strconv.FormatInt(ev.ID, 10)
	if err := s.store.UpdateSnapshot(ctx, ev.ID, key, url); err != nil {
		s.logger.Error("record event snapshot", zap.Int64("event_id", ev.ID), zap.Error(err))
		return
	}
	ev.SnapshotPath = key
	ev.ThumbnailURL = url
}

// SnapshotKey is the blob key for an event's snapshot.
func (s *Service) SnapshotKey(id int64) string {
	return fmt.Sprintf("%s/event-%d.jpg", s.keyspace, id)
}

// FetchMotionEvents returns up to limit of the newest events, oldest first.
// A non-positive limit means the configured default.
func (s *Service) FetchMotionEvents(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	events, err := s.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch motion events: %w", err)
	}
	for i := range events {
		if events[i].Detections == nil {
			events[i].Detections = []model.Detection{}
		}
	}
	return events, nil
}

// OpenSnapshot streams the stored snapshot for id. It returns
// eventstore.ErrNotFound when the event has no surviving blob.
func (s *Service) OpenSnapshot(ctx context.Context, id int64) (io.ReadCloser, error) {
	if s.blobs == nil {
		return nil, eventstore.ErrNotFound
	}
	key, ok, err := s.store.SnapshotPath(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, eventstore.ErrNotFound
	}
	rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", key, err)
	}
	return rc, nil
}

// PruneOldEvents deletes events older than the retention horizon along with
// their snapshots. Blob deletion is best effort. It is a no-op when
// retention is disabled.
func (s *Service) PruneOldEvents(ctx context.Context) (int, error) {
	if s.retentionDays <= 0 {
		return 0, nil
	}
	ctx, span := s.tracer.Start(ctx, "motion.prune_old_events")
	defer span.End()

	cutoff := s.now().UTC().Add(-time.Duration(s.retentionDays) * 24 * time.Hour)
	n, _, err := s.store.DeleteOlderThan(ctx, cutoff, s.purgeSnapshots)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return 0, fmt.Errorf("prune motion events: %w", err)
	}
	span.SetAttributes(attribute.Int64("events.pruned", n))
	return int(n), nil
}

func (s *Service) purgeSnapshots(ctx context.Context, keys []string) {
	if s.blobs == nil {
		return
	}
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn("delete expired snapshot", zap.String("key", key), zap.Error(err))
		}
	}
}
