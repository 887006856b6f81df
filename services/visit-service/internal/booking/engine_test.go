package booking

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/availability"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/outbox"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/storage"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/tokens"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []outbox.Event
}

func (n *recordingNotifier) Notify(_ context.Context, evt outbox.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
	return nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		out = append(out, e.EventType)
	}
	return out
}

type fixture struct {
	engine   *Engine
	store    storage.Store
	notifier *recordingNotifier
	ref      string
	manage   string
}

func morningPageInput() PageInput {
	return PageInput{
		Name:       "Baby Emma",
		Email:      "owner@example.com",
		DateFrom:   "2024-01-10",
		DateTo:     "2024-01-10",
		Windows:    map[model.Period]model.WindowRule{model.Morning: {From: "10:00", To: "12:00"}},
		Capacities: map[model.Period]int{model.Morning: 1},
		Duration:   60,
	}
}

func newFixture(t *testing.T, store storage.Store, in PageInput) *fixture {
	t.Helper()
	tok, err := tokens.NewService("test-secret")
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	n := &recordingNotifier{}
	e := NewEngine(store, tok, Options{Notifier: n})
	page, manage, err := e.CreatePage(context.Background(), in)
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	return &fixture{engine: e, store: store, notifier: n, ref: page.Reference, manage: manage}
}

func expectRejected(t *testing.T, err error, want Reason) {
	t.Helper()
	reason, ok := IsRejected(err)
	if !ok {
		t.Fatalf("expected rejection %q, got %v", want, err)
	}
	if reason != want {
		t.Fatalf("expected rejection %q, got %q", want, reason)
	}
}

func TestRequestVisitRejectsDoubleBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryStore(), morningPageInput())

	receipt, err := f.engine.RequestVisit(ctx, f.ref, "2024-01-10", "10:00", "A")
	if err != nil {
		t.Fatalf("RequestVisit: %v", err)
	}
	if receipt.Slot.Nonce != "" {
		t.Fatal("returned slot must not carry its nonce")
	}
	if len(receipt.OwnershipToken) != 64 {
		t.Fatalf("expected 64 char ownership token, got %q", receipt.OwnershipToken)
	}

	grid, err := f.engine.Grid(ctx, f.ref)
	if err != nil {
		t.Fatalf("Grid: %v", err)
	}
	if grid.States["2024-01-10"]["10:00"] != availability.Taken {
		t.Fatalf("expected 10:00 taken, got %s", grid.States["2024-01-10"]["10:00"])
	}

	_, err = f.engine.RequestVisit(ctx, f.ref, "2024-01-10", "10:00", "A2")
	expectRejected(t, err, ReasonOverlapping)

	if got := f.notifier.types(); len(got) != 1 || got[0] != outbox.TypeVisitBooked {
		t.Fatalf("expected one booked event, got %v", got)
	}
}

func TestRequestVisitRejectsOverCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryStore(), morningPageInput())
	if _, err := f.engine.RequestVisit(ctx, f.ref, "2024-01-10", "10:00", "A"); err != nil {
		t.Fatalf("RequestVisit: %v", err)
	}
	_, err := f.engine.RequestVisit(ctx, f.ref, "2024-01-10", "11:00", "B")
	expectRejected(t, err, ReasonOverCapacity)
}

func TestRequestVisitRejectsOutsideDateRange(t *testing.T) {
	f := newFixture(t, storage.NewMemoryStore(), morningPageInput())
	_, err := f.engine.RequestVisit(context.Background(), f.ref, "2024-01-11", "10:00", "C")
	expectRejected(t, err, ReasonOutsideDateRange)
}

func TestCancelRejectsAnotherSlotsToken(t *testing.T) {
	ctx := context.Background()
	in := morningPageInput()
	in.Capacities = nil
	f := newFixture(t, storage.NewMemoryStore(), in)

	first, err := f.engine.RequestVisit(ctx, f.ref, "2024-01-10", "10:00", "A")
	if err != nil {
		t.Fatalf("RequestVisit: %v", err)
	}
	if _, err := f.engine.RequestVisit(ctx, f.ref, "2024-01-10", "11:00", "B"); err != nil {
		t.Fatalf("RequestVisit: %v", err)
	}

	id := model.SlotIdentity{Date: "2024-01-10", Time: "11:00", Duration: 60}
	_, ok, err := f.engine.Cancel(ctx, f.ref, id, Proof{OwnershipToken: first.OwnershipToken})
	if !errors.Is(err, ErrUnauthorized) || ok {
		t.Fatalf("expected ErrUnauthorized, got ok=%v err=%v", ok, err)
	}

	page, _ := f.store.Fetch(ctx, f.ref)
	if len(page.Slots) != 2 {
		t.Fatalf("expected both slots to remain, got %d", len(page.Slots))
	}
}

func TestRotateNonceInvalidatesManageToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryStore(), morningPageInput())

	ok, err := f.engine.VerifyManageToken(ctx, f.ref, f.manage)
	if err != nil || !ok {
		t.Fatalf("expected manage token to verify, got ok=%v err=%v", ok, err)
	}
	fresh, err := f.engine.RotateNonce(ctx, f.ref, f.manage, false)
	if err != nil {
		t.Fatalf("RotateNonce: %v", err)
	}
	if ok, _ := f.engine.VerifyManageToken(ctx, f.ref, f.manage); ok {
		t.Fatal("expected old manage token to fail after rotation")
	}
	if ok, _ := f.engine.VerifyManageToken(ctx, f.ref, fresh); !ok {
		t.Fatal("expected new manage token to verify")
	}
	if _, err := f.engine.RotateNonce(ctx, f.ref, f.manage, false); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected stale token to be refused, got %v", err)
	}
}

func TestRotateWithSlotsRevokesOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryStore(), morningPageInput())
	receipt, err := f.engine.RequestVisit(ctx, f.ref, "2024-01-10", "10:00", "A")
	if err != nil {
		t.Fatalf("RequestVisit: %v", err)
	}
	id := receipt.Slot.Identity()
	if ok, _ := f.engine.VerifyOwnershipToken(ctx, f.ref, id, receipt.OwnershipToken); !ok {
		t.Fatal("expected ownership token to verify")
	}
	if _, err := f.engine.ForceRotateNonce(ctx, f.ref, true); err != nil {
		t.Fatalf("ForceRotateNonce: %v", err)
	}
	if ok, _ := f.engine.VerifyOwnershipToken(ctx, f.ref, id, receipt.OwnershipToken); ok {
		t.Fatal("expected slot rotation to revoke ownership token")
	}
}

func TestCancelWithOwnershipToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryStore(), morningPageInput())
	receipt, err := f.engine.RequestVisit(ctx, f.ref, "2024-01-10", "10:00", "A")
	if err != nil {
		t.Fatalf("RequestVisit: %v", err)
	}

	slot, ok, err := f.engine.Cancel(ctx, f.ref, receipt.Slot.Identity(), Proof{OwnershipToken: receipt.OwnershipToken})
	if err != nil || !ok {
		t.Fatalf("expected cancel to succeed, got ok=%v err=%v", ok, err)
	}
	if slot.Nonce != "" || slot.Time != "10:00" {
		t.Fatalf("unexpected cancelled slot %+v", slot)
	}
	if _, err := f.engine.RequestVisit(ctx, f.ref, "2024-01-10", "11:00", "B"); err != nil {
		t.Fatalf("expected capacity to be freed, got %v", err)
	}
	types := f.notifier.types()
	if len(types) != 3 || types[1] != outbox.TypeVisitCancelled {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryStore(), morningPageInput())
	receipt, err := f.engine.RequestVisit(ctx, f.ref, "2024-01-10", "10:00", "A")
	if err != nil {
		t.Fatalf("RequestVisit: %v", err)
	}
	before, _ := f.store.Fetch(ctx, f.ref)

	missing := model.SlotIdentity{Date: "2024-01-10", Time: "10:00", Duration: 30}
	_, ok, err := f.engine.Cancel(ctx, f.ref, missing, Proof{OwnershipToken: receipt.OwnershipToken})
	if err != nil || ok {
		t.Fatalf("expected false without error, got ok=%v err=%v", ok, err)
	}
	after, _ := f.store.Fetch(ctx, f.ref)
	if after.Version != before.Version || len(after.Slots) != 1 {
		t.Fatal("expected no mutation for a missing slot")
	}

	if _, ok, _ := f.engine.Cancel(ctx, f.ref, receipt.Slot.Identity(), Proof{ManageToken: f.manage}); !ok {
		t.Fatal("expected owner cancel to succeed")
	}
	if _, ok, err := f.engine.Cancel(ctx, f.ref, receipt.Slot.Identity(), Proof{ManageToken: f.manage}); ok || err != nil {
		t.Fatalf("expected repeated cancel to be a no-op, got ok=%v err=%v", ok, err)
	}
}

func TestRequestBlockBypassesCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryStore(), morningPageInput())
	if _, err := f.engine.RequestVisit(ctx, f.ref, "2024-01-10", "10:00", "A"); err != nil {
		t.Fatalf("RequestVisit: %v", err)
	}

	req := BlockRequest{Date: "2024-01-10", Time: "11:00", Duration: 60, Name: "ignored"}
	if _, err := f.engine.RequestBlock(ctx, f.ref, "bad-token", req); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	receipt, err := f.engine.RequestBlock(ctx, f.ref, f.manage, req)
	if err != nil {
		t.Fatalf("RequestBlock: %v", err)
	}
	if receipt.Slot.Type != model.SlotBlocked || receipt.Slot.Name != "" {
		t.Fatalf("expected anonymous block, got %+v", receipt.Slot)
	}

	_, err = f.engine.RequestBlock(ctx, f.ref, f.manage, BlockRequest{Date: "2024-01-10", Time: "10:30", Duration: 30})
	expectRejected(t, err, ReasonOverlapping)
	_, err = f.engine.RequestBlock(ctx, f.ref, f.manage, BlockRequest{Date: "2024-01-10", Time: "11:30", Duration: 60})
	expectRejected(t, err, ReasonOutsideWindow)
}

func TestRequestVisitValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, storage.NewMemoryStore(), morningPageInput())
	if _, err := f.engine.RequestVisit(ctx, f.ref, "2024-01-10", "10:00", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	for _, name := range []string{"   ", "Eve\r\nBcc: victim@example.com", "tab\tname", strings.Repeat("x", maxNameLength+1)} {
		if _, err := f.engine.RequestVisit(ctx, f.ref, "2024-01-10", "10:00", name); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("name %q: expected ErrInvalidInput, got %v", name, err)
		}
	}
	_, err := f.engine.RequestBlock(ctx, f.ref, f.manage, BlockRequest{Date: "2024-01-10", Time: "10:00", Type: model.SlotTaken, Name: "Eve\nBcc: x"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("block with control characters: expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.engine.RequestVisit(ctx, "missing0", "2024-01-10", "10:00", "A"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = f.engine.RequestVisit(ctx, f.ref, "2024-01-10", "11:30", "A")
	expectRejected(t, err, ReasonOutsideWindow)
}

// racingStore lets another writer commit just before each conditional write.
type racingStore struct {
	*storage.MemoryStore
	race    func(ctx context.Context, s *storage.MemoryStore)
	races   int
	updates int
}

func (s *racingStore) ConditionalUpdate(ctx context.Context, reference string, attrs storage.Attributes, pre storage.Precondition) (int64, error) {
	s.updates++
	if s.races > 0 {
		s.races--
		s.race(ctx, s.MemoryStore)
	}
	return s.MemoryStore.ConditionalUpdate(ctx, reference, attrs, pre)
}

func TestConflictRevalidatesAgainstWinner(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{MemoryStore: storage.NewMemoryStore(), races: 1}
	f := newFixture(t, store, morningPageInput())
	store.race = func(ctx context.Context, s *storage.MemoryStore) {
		page, _ := s.Fetch(ctx, f.ref)
		winner := model.Slot{Date: "2024-01-10", Time: "10:00", Duration: 60, Type: model.SlotTaken, Name: "Winner", Nonce: "n"}
		page.Slots = append(page.Slots, winner)
		if _, err := s.ConditionalUpdate(ctx, f.ref, storage.Attributes{storage.FieldSlots: page.Slots}, storage.Precondition{Version: page.Version}); err != nil {
			t.Errorf("racing write: %v", err)
		}
	}

	_, err := f.engine.RequestVisit(ctx, f.ref, "2024-01-10", "10:00", "Loser")
	expectRejected(t, err, ReasonOverlapping)
	if store.updates != 1 {
		t.Fatalf("expected the retry to stop at validation, got %d writes", store.updates)
	}
	page, _ := store.Fetch(ctx, f.ref)
	if len(page.Slots) != 1 || page.Slots[0].Name != "Winner" {
		t.Fatalf("expected only the winner to be stored, got %+v", page.Slots)
	}
}

func TestConflictRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	in := morningPageInput()
	in.Capacities = nil
	store := &racingStore{MemoryStore: storage.NewMemoryStore(), races: 2}
	f := newFixture(t, store, in)
	store.race = func(ctx context.Context, s *storage.MemoryStore) {
		page, _ := s.Fetch(ctx, f.ref)
		_, _ = s.ConditionalUpdate(ctx, f.ref, storage.Attributes{"description": "touched"}, storage.Precondition{Version: page.Version})
	}

	if _, err := f.engine.RequestVisit(ctx, f.ref, "2024-01-10", "10:00", "A"); err != nil {
		t.Fatalf("expected third attempt to land, got %v", err)
	}
	if store.updates != 3 {
		t.Fatalf("expected 3 attempts, got %d", store.updates)
	}
}

func TestConflictExhaustionIsStaleRejection(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{MemoryStore: storage.NewMemoryStore(), races: 100}
	f := newFixture(t, store, morningPageInput())
	store.race = func(ctx context.Context, s *storage.MemoryStore) {
		page, _ := s.Fetch(ctx, f.ref)
		_, _ = s.ConditionalUpdate(ctx, f.ref, storage.Attributes{"description": "touched"}, storage.Precondition{Version: page.Version})
	}

	_, err := f.engine.RequestVisit(ctx, f.ref, "2024-01-10", "10:00", "A")
	expectRejected(t, err, ReasonStale)
	if store.updates != DefaultMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", DefaultMaxAttempts, store.updates)
	}

	_, _, err = f.engine.Cancel(ctx, f.ref, model.SlotIdentity{Date: "2024-01-10", Time: "10:00", Duration: 60}, Proof{ManageToken: f.manage})
	if err != nil {
		t.Fatalf("cancel of a missing slot must not write, got %v", err)
	}
}

func TestConcurrentRequestsKeepInvariants(t *testing.T) {
	ctx := context.Background()
	in := morningPageInput()
	in.Capacities = map[model.Period]int{model.Morning: 2}
	in.Duration = 30
	f := newFixture(t, storage.NewMemoryStore(), in)

	times := []string{"10:00", "10:00", "10:15", "10:30", "11:00", "11:30", "10:45", "11:15"}
	var wg sync.WaitGroup
	for _, at := range times {
		wg.Add(1)
		go func(at string) {
			defer wg.Done()
			_, _ = f.engine.RequestVisit(ctx, f.ref, "2024-01-10", timeOf(at), "guest")
		}(at)
	}
	wg.Wait()

	page, err := f.store.Fetch(ctx, f.ref)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(page.Slots) > 2 {
		t.Fatalf("capacity exceeded: %d slots", len(page.Slots))
	}
	for i := range page.Slots {
		for j := i + 1; j < len(page.Slots); j++ {
			a, b := page.Slots[i], page.Slots[j]
			if a.Date == b.Date && !(a.End() <= b.Time || a.Time >= b.End()) {
				t.Fatalf("overlapping slots %+v and %+v", a, b)
			}
		}
	}
}

// stallingNotifier blocks until its context ends, like a Kafka write against
// a broker that is down.
type stallingNotifier struct {
	calls    int
	deadline bool
}

func (n *stallingNotifier) Notify(ctx context.Context, _ outbox.Event) error {
	n.calls++
	_, n.deadline = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

func TestSlowNotifierDoesNotFailCommittedVisit(t *testing.T) {
	tok, err := tokens.NewService("test-secret")
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	store := storage.NewMemoryStore()
	n := &stallingNotifier{}
	e := NewEngine(store, tok, Options{Notifier: n, NotifyTimeout: 20 * time.Millisecond})
	page, _, err := e.CreatePage(context.Background(), morningPageInput())
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Now()
	receipt, err := e.RequestVisit(ctx, page.Reference, "2024-01-10", "10:00", "Ann")
	if err != nil {
		t.Fatalf("RequestVisit: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("visit waited %s on the notifier", elapsed)
	}
	if receipt.OwnershipToken == "" || n.calls != 1 || !n.deadline {
		t.Fatalf("expected token and one bounded notify, got token=%q calls=%d deadline=%v", receipt.OwnershipToken, n.calls, n.deadline)
	}
	stored, _ := store.Fetch(context.Background(), page.Reference)
	if len(stored.Slots) != 1 {
		t.Fatalf("expected committed slot, got %d", len(stored.Slots))
	}
}

func TestNotifyOutlivesCancelledRequest(t *testing.T) {
	tok, _ := tokens.NewService("test-secret")
	n := &recordingNotifier{}
	e := NewEngine(storage.NewMemoryStore(), tok, Options{Notifier: contextCheckingNotifier{n}})
	page, _, err := e.CreatePage(context.Background(), morningPageInput())
	if err != nil {
		t.Fatalf("CreatePage: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	slot := model.Slot{Date: "2024-01-10", Time: "10:00", Duration: 60, Type: model.SlotTaken, Name: "Ann"}
	cancel()
	e.notify(ctx, outbox.VisitBooked, page, slot)
	if got := n.types(); len(got) != 1 {
		t.Fatalf("expected the event despite the cancelled request, got %v", got)
	}
}

// contextCheckingNotifier refuses events handed over with a dead context.
type contextCheckingNotifier struct{ next *recordingNotifier }

func (n contextCheckingNotifier) Notify(ctx context.Context, evt outbox.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.next.Notify(ctx, evt)
}
