package poller_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"telecast/internal/delivery"
	"telecast/internal/poller"
)

type blockingSender struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (b *blockingSender) From() string { return "notify@example.com" }

func (b *blockingSender) Send(ctx context.Context, _ delivery.Message) error {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestTriggerSerializesCycles(t *testing.T) {
	blocker := &blockingSender{release: make(chan struct{}), started: make(chan struct{})}
	f := newFixtureWithSender(t, blocker)
	scheduler := poller.NewScheduler(f.poller, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		done <- scheduler.Trigger(ctx, poller.CycleOptions{})
	}()

	<-blocker.started
	if scheduler.Trigger(ctx, poller.CycleOptions{}) {
		t.Fatal("second trigger must be refused while a cycle runs")
	}

	close(blocker.release)
	if !<-done {
		t.Fatal("first trigger should have run")
	}
	if !scheduler.Trigger(ctx, poller.CycleOptions{}) {
		t.Fatal("trigger should succeed once the cycle finished")
	}

	lastRun, err := scheduler.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if lastRun.IsZero() {
		t.Fatal("last run time should be recorded")
	}
}

func TestTriggerAsyncReturnsWhileCycleRuns(t *testing.T) {
	blocker := &blockingSender{release: make(chan struct{}), started: make(chan struct{})}
	f := newFixtureWithSender(t, blocker)
	scheduler := poller.NewScheduler(f.poller, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The dispatch comes back before the delivery unblocks.
	if !scheduler.TriggerAsync(ctx, poller.CycleOptions{}) {
		t.Fatal("dispatch should be accepted")
	}
	<-blocker.started

	if scheduler.TriggerAsync(ctx, poller.CycleOptions{}) {
		t.Fatal("second dispatch must be refused while a cycle runs")
	}
	close(blocker.release)

	deadline := time.Now().Add(5 * time.Second)
	for {
		lastRun, err := scheduler.Status()
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if !lastRun.IsZero() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("dispatched cycle never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRescheduleBeforeRunIsSafe(t *testing.T) {
	f := newFixture(t)
	scheduler := poller.NewScheduler(f.poller, time.Hour, nil)
	scheduler.Reschedule(30 * time.Minute)

	if _, err := scheduler.Status(); err != nil {
		t.Fatalf("Status: %v", err)
	}
}
