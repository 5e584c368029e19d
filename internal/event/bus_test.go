package event

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestBus_EmitBlockingHooksInOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.Register(NewFuncHook("first", nil, true, func(ev Event) error {
		order = append(order, "first")
		return nil
	}))
	bus.Register(NewFuncHook("second", nil, true, func(ev Event) error {
		order = append(order, "second")
		return nil
	}))

	if err := bus.Emit(NewEvent(MemoryStored, nil)); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("expected registration order execution, got %v", order)
	}
}

func TestBus_BlockingHookErrorStopsDispatch(t *testing.T) {
	bus := NewBus(nil)

	var reached bool
	bus.Register(NewFuncHook("failing", nil, true, func(ev Event) error {
		return fmt.Errorf("hook failure")
	}))
	bus.Register(NewFuncHook("after", nil, true, func(ev Event) error {
		reached = true
		return nil
	}))

	if err := bus.Emit(NewEvent(SweepCompleted, nil)); err == nil {
		t.Fatal("expected error from blocking hook")
	}
	if reached {
		t.Error("expected dispatch to stop after blocking hook failure")
	}
}

func TestBus_TypeFilter(t *testing.T) {
	bus := NewBus(nil)

	var got []EventType
	bus.Register(NewFuncHook("sweep-only", []EventType{SweepStarted, SweepCompleted}, true, func(ev Event) error {
		got = append(got, ev.Type)
		return nil
	}))

	bus.Emit(NewEvent(MemoryStored, nil))
	bus.Emit(NewEvent(SweepStarted, nil))
	bus.Emit(NewEvent(QuotaExceeded, nil))
	bus.Emit(NewEvent(SweepCompleted, nil))

	if len(got) != 2 || got[0] != SweepStarted || got[1] != SweepCompleted {
		t.Errorf("expected only sweep events, got %v", got)
	}
}

func TestBus_Disabled(t *testing.T) {
	bus := NewBus(nil)

	var called bool
	bus.Register(NewFuncHook("capture", nil, true, func(ev Event) error {
		called = true
		return nil
	}))

	bus.SetEnabled(false)
	bus.Emit(NewEvent(MemoryStored, nil))
	if called {
		t.Error("expected no dispatch while disabled")
	}

	bus.SetEnabled(true)
	bus.Emit(NewEvent(MemoryStored, nil))
	if !called {
		t.Error("expected dispatch after re-enabling")
	}
}

func TestBus_NilSafe(t *testing.T) {
	var bus *Bus
	bus.Register(NewFuncHook("x", nil, true, func(ev Event) error { return nil }))
	if err := bus.Emit(NewEvent(MemoryStored, nil)); err != nil {
		t.Errorf("nil bus must be a no-op, got %v", err)
	}
	bus.SetEnabled(true)
}

func TestBus_WebhookDelivery(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Error(err)
		}
		received <- ev
	}))
	t.Cleanup(srv.Close)

	bus := NewBus(nil)
	bus.Register(NewWebhookHook("notify", srv.URL, []EventType{MemorySwept}, false))

	bus.Emit(NewEvent(MemoryStored, nil)) // filtered out
	bus.Emit(NewEvent(MemorySwept, map[string]interface{}{"deleted": 3}))
	bus.Drain()

	select {
	case ev := <-received:
		if ev.Type != MemorySwept {
			t.Errorf("expected memory.swept, got %s", ev.Type)
		}
		if ev.Data["deleted"] != float64(3) {
			t.Errorf("unexpected payload: %v", ev.Data)
		}
	default:
		t.Fatal("expected the webhook to be delivered")
	}
}

func TestBus_DrainWaitsForNonBlockingHooks(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	done := false
	bus.Register(NewFuncHook("slow", nil, false, func(ev Event) error {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		done = true
		mu.Unlock()
		return nil
	}))

	bus.Emit(NewEvent(SweepCompleted, nil))
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	if !done {
		t.Error("expected Drain to wait for the in-flight hook")
	}
}

func TestBus_ConcurrentEmit(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	count := 0
	bus.Register(NewFuncHook("counter", nil, true, func(ev Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(NewEvent(MemorySearched, nil))
		}()
	}
	wg.Wait()

	if count != 20 {
		t.Errorf("expected 20 handled events, got %d", count)
	}
}
