package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockSender records deliveries and fails while err is set.
type mockSender struct {
	mu    sync.Mutex
	calls map[string][][]int
	err   error
}

func newMockSender() *mockSender {
	return &mockSender{calls: make(map[string][][]int)}
}

func (m *mockSender) send(ctx context.Context, key string, items []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.calls[key] = append(m.calls[key], append([]int(nil), items...))
	return nil
}

func (m *mockSender) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockSender) delivered(key string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []int
	for _, batch := range m.calls[key] {
		out = append(out, batch...)
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNew_Defaults(t *testing.T) {
	s := New(newMockSender().send, Config{})
	if s.config.MaxSize != 10000 {
		t.Errorf("MaxSize = %d, want 10000", s.config.MaxSize)
	}
	if s.config.FlushEvery != 30*time.Second {
		t.Errorf("FlushEvery = %v, want 30s", s.config.FlushEvery)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestFlush_GroupsByKey(t *testing.T) {
	sender := newMockSender()
	s := New(sender.send, Config{MaxSize: 10})

	s.Add("api", 1)
	s.Add("db", 2)
	s.Add("api", 3)

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := sender.delivered("api"); !equalInts(got, []int{1, 3}) {
		t.Errorf("api delivered %v, want [1 3]", got)
	}
	if got := sender.delivered("db"); !equalInts(got, []int{2}) {
		t.Errorf("db delivered %v, want [2]", got)
	}
	if s.Len() != 0 {
		t.Errorf("Len after flush = %d, want 0", s.Len())
	}
}

func TestFlush_Empty(t *testing.T) {
	called := false
	s := New(func(ctx context.Context, key string, items []int) error {
		called = true
		return nil
	}, Config{})

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if called {
		t.Error("send called for empty spool")
	}
}

func TestAdd_Full(t *testing.T) {
	s := New(newMockSender().send, Config{MaxSize: 2})

	s.Add("api", 1)
	s.Add("api", 2)
	if err := s.Add("api", 3); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if s.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", s.Dropped())
	}
}

func TestFlush_RequeuesOnFailure(t *testing.T) {
	sender := newMockSender()
	s := New(sender.send, Config{MaxSize: 10})

	s.Add("api", 1)
	s.Add("api", 2)

	sender.setErr(errors.New("connection refused"))
	if err := s.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if s.Len() != 2 {
		t.Fatalf("Len after failed flush = %d, want 2", s.Len())
	}

	// Items added after the failure go behind the requeued ones.
	s.Add("api", 3)
	sender.setErr(nil)
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := sender.delivered("api"); !equalInts(got, []int{1, 2, 3}) {
		t.Errorf("delivered %v, want [1 2 3]", got)
	}
}

func TestFlush_RetryPredicate(t *testing.T) {
	permanent := errors.New("bad request")
	sender := newMockSender()
	s := New(sender.send, Config{
		MaxSize: 10,
		Retry:   func(err error) bool { return !errors.Is(err, permanent) },
	})

	s.Add("api", 1)
	sender.setErr(permanent)

	err := s.Flush(context.Background())
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("permanent failure should discard items, Len = %d", s.Len())
	}
}

func TestRequeue_TrimsOldest(t *testing.T) {
	s := New(newMockSender().send, Config{MaxSize: 3})

	s.Add("db", 9)
	s.requeue("api", []int{1, 2, 3})

	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	if got := s.pending["api"]; !equalInts(got, []int{2, 3}) {
		t.Errorf("requeued %v, want newest [2 3]", got)
	}
	if s.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", s.Dropped())
	}
}

func TestStartStop_PeriodicFlush(t *testing.T) {
	sender := newMockSender()
	s := New(sender.send, Config{MaxSize: 10, FlushEvery: 20 * time.Millisecond})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	s.Add("api", 1)

	deadline := time.Now().Add(2 * time.Second)
	for len(sender.delivered("api")) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sender.delivered("api"); !equalInts(got, []int{1}) {
		t.Fatalf("periodic flush delivered %v, want [1]", got)
	}

	s.Add("api", 2)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := sender.delivered("api"); !equalInts(got, []int{1, 2}) {
		t.Errorf("delivered after Stop %v, want [1 2]", got)
	}
}

func TestStop_WithoutStart(t *testing.T) {
	sender := newMockSender()
	s := New(sender.send, Config{})
	s.Add("api", 1)

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := sender.delivered("api"); !equalInts(got, []int{1}) {
		t.Errorf("delivered %v, want [1]", got)
	}
}
