package observability

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestShutdownManager_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)

	var order []string
	for _, name := range []string{"database", "redis", "http"} {
		sm.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned %v", err)
	}
	want := []string{"http", "redis", "database"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("Expected %v, got %v", want, order)
	}

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Errorf("Second Shutdown should be a no-op, got %v", err)
	}
	if len(order) != 3 {
		t.Errorf("Hooks ran twice: %v", order)
	}
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), 0)
	boom := errors.New("boom")

	ran := false
	sm.Register("first", func(context.Context) error { ran = true; return nil })
	sm.Register("second", func(context.Context) error { return boom })

	err := sm.Shutdown(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("Expected joined error to wrap boom, got %v", err)
	}
	if !ran {
		t.Error("A failing hook must not stop the remaining hooks")
	}
}

func TestShutdownManager_HooksSeeDeadline(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), 50*time.Millisecond)
	sm.Register("slow", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	})

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}
