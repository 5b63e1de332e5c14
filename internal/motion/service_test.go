package motion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/your-org/motionwatch/internal/hub"
	"github.com/your-org/motionwatch/internal/model"
	"github.com/your-org/motionwatch/pkg/storage/eventstore"
	"github.com/your-org/motionwatch/pkg/storage/objectstore"
)

type captureSubscriber struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *captureSubscriber) ID() string { return "capture" }

func (c *captureSubscriber) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, append([]byte(nil), payload...))
	return nil
}

func (c *captureSubscriber) Close() error { return nil }

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recordingNotifier) Enqueue(ev model.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// flakyBlobs wraps a real blob store and fails selected operations.
type flakyBlobs struct {
	BlobStore
	failPut    bool
	failDelete map[string]bool
}

func (f *flakyBlobs) Put(ctx context.Context, key string, r io.Reader, size int64, meta map[string]string) error {
	if f.failPut {
		return errors.New("disk full")
	}
	return f.BlobStore.Put(ctx, key, r, size, meta)
}

func (f *flakyBlobs) Delete(ctx context.Context, key string) error {
	if f.failDelete[key] {
		return errors.New("permission denied")
	}
	return f.BlobStore.Delete(ctx, key)
}

type fixture struct {
	svc      *Service
	store    *eventstore.Store
	blobs    *flakyBlobs
	hub      *hub.Hub
	sub      *captureSubscriber
	notifier *recordingNotifier
	now      time.Time
}

func newFixture(t *testing.T, mutate func(*Params)) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	local, err := objectstore.NewLocal(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	store, err := eventstore.Open(ctx, filepath.Join(dir, "motion.db"), eventstore.Options{Blobs: local})
	if err != nil {
		t.Fatalf("eventstore.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store:    store,
		blobs:    &flakyBlobs{BlobStore: local, failDelete: map[string]bool{}},
		hub:      hub.New(zaptest.NewLogger(t)),
		sub:      &captureSubscriber{},
		notifier: &recordingNotifier{},
		now:      time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC),
	}
	f.hub.Connect(f.sub)

	p := Params{
		Store:          store,
		Blobs:          f.blobs,
		Hub:            f.hub,
		Notifier:       f.notifier,
		Logger:         zaptest.NewLogger(t),
		PlaceholderURL: "https://placehold.co/120x68?text=Motion",
		RetentionDays:  7,
		Now:            func() time.Time { return f.now },
		Rand:           rand.New(rand.NewPCG(1, 2)),
	}
	if mutate != nil {
		mutate(&p)
	}
	f.svc, err = NewService(p)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return f
}

func (f *fixture) persist(t *testing.T, severity string, ts time.Time, snapshot []byte) *model.Event {
	t.Helper()
	ev := f.svc.CreateMotionEvent("cam-1", "motion")
	ev.Severity = severity
	ev.Timestamp = ts
	saved, err := f.svc.PersistEvent(context.Background(), ev, snapshot)
	if err != nil {
		t.Fatalf("PersistEvent() error = %v", err)
	}
	return saved
}

func TestCreateMotionEvent(t *testing.T) {
	f := newFixture(t, nil)

	ev := f.svc.CreateMotionEvent("", "")
	if ev.ID != 0 {
		t.Fatalf("id = %d, want unset", ev.ID)
	}
	if !contains([]string{"test-cam-1", "test-cam-2", "simulated-ai"}, ev.Source) {
		t.Fatalf("source = %q", ev.Source)
	}
	if !contains([]string{"low", "medium", "high"}, ev.Severity) {
		t.Fatalf("severity = %q", ev.Severity)
	}
	if ev.ThumbnailURL != "https://placehold.co/120x68?text=Motion" {
		t.Fatalf("thumbnail = %q", ev.ThumbnailURL)
	}
	if ev.Message != "Simulated motion detected" {
		t.Fatalf("message = %q", ev.Message)
	}
	if !ev.Timestamp.Equal(f.now) {
		t.Fatalf("timestamp = %v", ev.Timestamp)
	}

	cam := f.svc.CreateMotionEvent("laptop_cam", "Laptop camera detected motion")
	if cam.Source != "laptop_cam" || cam.Message != "Laptop camera detected motion" {
		t.Fatalf("explicit fields not kept: %+v", cam)
	}
}

func TestPersistHighSeverityBroadcastsAndNotifies(t *testing.T) {
	f := newFixture(t, nil)
	saved := f.persist(t, "HIGH", f.now, nil)

	if saved.ID == 0 {
		t.Fatal("expected id to be assigned")
	}
	if len(f.sub.payloads) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(f.sub.payloads))
	}

	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(f.sub.payloads[0], &msg); err != nil {
		t.Fatalf("decode broadcast: %v", err)
	}
	if msg.Type != "motion_event" {
		t.Fatalf("type = %q", msg.Type)
	}
	if id, _ := msg.Payload["id"].(float64); int64(id) != saved.ID {
		t.Fatalf("payload id = %v, want %d", msg.Payload["id"], saved.ID)
	}
	dets, ok := msg.Payload["detections"].([]any)
	if !ok || len(dets) != 0 {
		t.Fatalf("payload detections = %#v, want []", msg.Payload["detections"])
	}
	if f.notifier.count() != 1 {
		t.Fatalf("notifications = %d, want 1", f.notifier.count())
	}
}

func TestPersistLowSeverityDoesNotNotify(t *testing.T) {
	f := newFixture(t, nil)
	f.persist(t, "low", f.now, nil)

	if len(f.sub.payloads) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(f.sub.payloads))
	}
	if f.notifier.count() != 0 {
		t.Fatalf("notifications = %d, want 0", f.notifier.count())
	}
}

func TestPersistDefaultsDetections(t *testing.T) {
	f := newFixture(t, nil)
	saved := f.persist(t, "low", f.now, nil)
	if saved.Detections == nil {
		t.Fatal("expected detections to default to an empty list")
	}

	events, err := f.svc.FetchMotionEvents(context.Background(), 0)
	if err != nil {
		t.Fatalf("FetchMotionEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].Detections == nil {
		t.Fatalf("events = %+v", events)
	}
}

func TestPersistedTimestampMatchesFetched(t *testing.T) {
	f := newFixture(t, nil)
	saved := f.persist(t, "low", f.now.Add(400*time.Nanosecond), nil)

	events, err := f.svc.FetchMotionEvents(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchMotionEvents() error = %v", err)
	}
	if len(events) != 1 || !events[0].Timestamp.Equal(saved.Timestamp) {
		t.Fatalf("fetched %+v, persisted timestamp %v", events, saved.Timestamp)
	}
}

func TestFetchReturnsNewestWindowOldestFirst(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 40; i++ {
		f.persist(t, "low", f.now, nil)
	}
	a := f.persist(t, "low", f.now, nil)
	b := f.persist(t, "low", f.now, nil)
	if a.ID != 41 || b.ID != 42 {
		t.Fatalf("ids = %d, %d, want 41, 42", a.ID, b.ID)
	}

	one, err := f.svc.FetchMotionEvents(context.Background(), 1)
	if err != nil {
		t.Fatalf("FetchMotionEvents() error = %v", err)
	}
	if len(one) != 1 || one[0].ID != 42 {
		t.Fatalf("fetch(1) = %+v, want only id 42", one)
	}

	three, _ := f.svc.FetchMotionEvents(context.Background(), 3)
	if len(three) != 3 || three[0].ID != 40 || three[2].ID != 42 {
		t.Fatalf("fetch(3) ids = %d..%d", three[0].ID, three[len(three)-1].ID)
	}
}

func TestPersistAttachesSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	snapshot := []byte("\xff\xd8jpeg-bytes\xff\xd9")
	saved := f.persist(t, "low", f.now, snapshot)

	want := "/api/event-snapshot/1"
	if saved.ThumbnailURL != want {
		t.Fatalf("thumbnail = %q, want %q", saved.ThumbnailURL, want)
	}
	if saved.SnapshotPath != "snapshots/event-1.jpg" {
		t.Fatalf("snapshot path = %q", saved.SnapshotPath)
	}

	rc, err := f.svc.OpenSnapshot(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("OpenSnapshot() error = %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != string(snapshot) {
		t.Fatalf("snapshot bytes = %q", got)
	}

	var msg struct {
		Payload model.Event `json:"payload"`
	}
	_ = json.Unmarshal(f.sub.payloads[0], &msg)
	if msg.Payload.ThumbnailURL != want {
		t.Fatalf("broadcast thumbnail = %q", msg.Payload.ThumbnailURL)
	}
}

func TestPersistSurvivesSnapshotWriteFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.blobs.failPut = true

	saved := f.persist(t, "high", f.now, []byte("jpeg"))
	if saved.ThumbnailURL != "https://placehold.co/120x68?text=Motion" {
		t.Fatalf("thumbnail = %q", saved.ThumbnailURL)
	}
	if len(f.sub.payloads) != 1 || f.notifier.count() != 1 {
		t.Fatal("expected broadcast and notification despite snapshot failure")
	}
	if _, err := f.svc.OpenSnapshot(context.Background(), saved.ID); !errors.Is(err, eventstore.ErrNotFound) {
		t.Fatalf("OpenSnapshot() = %v, want ErrNotFound", err)
	}
	events, _ := f.svc.FetchMotionEvents(context.Background(), 10)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
}

func TestPruneOldEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cutoff := f.now.Add(-7 * 24 * time.Hour)

	old := f.persist(t, "low", cutoff.Add(-time.Second), []byte("old"))
	edge := f.persist(t, "low", cutoff, nil)
	fresh := f.persist(t, "low", f.now, []byte("fresh"))

	n, err := f.svc.PruneOldEvents(ctx)
	if err != nil {
		t.Fatalf("PruneOldEvents() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}

	events, _ := f.svc.FetchMotionEvents(ctx, 10)
	if len(events) != 2 || events[0].ID != edge.ID || events[1].ID != fresh.ID {
		t.Fatalf("remaining = %+v", events)
	}
	if _, err := f.blobs.Get(ctx, old.SnapshotPath); !errors.Is(err, objectstore.ErrNotFound) {
		t.Fatalf("old snapshot still present: %v", err)
	}

	n, err = f.svc.PruneOldEvents(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second prune = %d, %v; want 0, nil", n, err)
	}
}

func TestPruneContinuesPastBlobDeleteFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	past := f.now.Add(-30 * 24 * time.Hour)

	a := f.persist(t, "low", past, []byte("a"))
	f.persist(t, "low", past, []byte("b"))
	f.blobs.failDelete[a.SnapshotPath] = true

	n, err := f.svc.PruneOldEvents(ctx)
	if err != nil {
		t.Fatalf("PruneOldEvents() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("pruned = %d, want 2", n)
	}
}

func TestPruneDisabled(t *testing.T) {
	f := newFixture(t, func(p *Params) { p.RetentionDays = 0 })
	f.persist(t, "low", f.now.Add(-365*24*time.Hour), nil)

	n, err := f.svc.PruneOldEvents(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("PruneOldEvents() = %d, %v; want 0, nil", n, err)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
