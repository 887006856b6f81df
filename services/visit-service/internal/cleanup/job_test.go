package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/visitwindow/libs/runtime"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/outbox"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/storage"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/timeofday"
)

type flakyStore struct {
	*storage.MemoryStore
	failures int
	deletes  int
}

func (s *flakyStore) Delete(ctx context.Context, reference string, pre *storage.Precondition) error {
	s.deletes++
	if s.failures > 0 {
		s.failures--
		return errors.New("throughput exceeded")
	}
	return s.MemoryStore.Delete(ctx, reference, pre)
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify(context.Context, outbox.Event) error {
	c.n++
	return nil
}

func put(t *testing.T, s storage.Store, ref string, from, to timeofday.Date) {
	t.Helper()
	if err := s.Put(context.Background(), &model.Page{Reference: ref, DateFrom: from, DateTo: to}, nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func newTestJob(store storage.Store, n outbox.Notifier) *Job {
	j := NewJob(store, n, runtime.Discard(), Config{})
	j.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	j.sleep = func(context.Context, time.Duration) error { return nil }
	return j
}

func TestRunDeletesExpiredPages(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	put(t, store, "old00001", "2024-01-01", "2024-01-15")
	put(t, store, "old00002", "2024-01-01", "")
	put(t, store, "legacy01", "", "15-01-2024")
	put(t, store, "recent01", "2024-05-01", "2024-05-15")
	put(t, store, "edge0001", "2024-03-01", "2024-03-03")
	put(t, store, "garbled1", "", "someday")
	put(t, store, "blank001", "", "")

	n := &countingNotifier{}
	res, err := newTestJob(store, n).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Scanned != 7 || res.Deleted != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, ref := range []string{"old00001", "old00002", "legacy01", "blank001"} {
		if _, err := store.Fetch(ctx, ref); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected %s deleted, got %v", ref, err)
		}
	}
	for _, ref := range []string{"recent01", "edge0001", "garbled1"} {
		if _, err := store.Fetch(ctx, ref); err != nil {
			t.Fatalf("expected %s kept, got %v", ref, err)
		}
	}
	if n.n != 4 {
		t.Fatalf("expected 4 deletion events, got %d", n.n)
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	store := &flakyStore{MemoryStore: storage.NewMemoryStore(), failures: 2}
	put(t, store, "old00001", "2024-01-01", "2024-01-15")

	j := newTestJob(store, nil)
	var delays []time.Duration
	j.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	res, err := j.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Deleted != 1 || store.deletes != 3 {
		t.Fatalf("expected success on third try, got %+v after %d deletes", res, store.deletes)
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Fatalf("expected exponential backoff, got %v", delays)
	}
}

func TestRunGivesUpAfterMaxRetries(t *testing.T) {
	store := &flakyStore{MemoryStore: storage.NewMemoryStore(), failures: 100}
	put(t, store, "old00001", "2024-01-01", "2024-01-15")

	res, err := newTestJob(store, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Failed != 1 || res.Deleted != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if store.deletes != maxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", maxRetries+1, store.deletes)
	}
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	j := newTestJob(storage.NewMemoryStore(), nil)
	if _, err := NewScheduler(j, "not a schedule", runtime.Discard()); err == nil {
		t.Fatal("expected invalid cron spec to fail")
	}
	s, err := NewScheduler(j, "@daily", runtime.Discard())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
