package logbroker

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestPublishLocalFanOut(t *testing.T) {
	b := New(nil, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, 1)
	if got := b.SubscriberCount(1); got != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", got)
	}

	b.Publish(ctx, Line{DeploymentID: 1, Stream: "stdout", Text: "building"})

	select {
	case line := <-ch:
		if line.Text != "building" {
			t.Fatalf("line.Text = %q, want %q", line.Text, "building")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published line")
	}
}

func TestPublishIgnoresOtherDeployments(t *testing.T) {
	b := New(nil, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, 1)
	b.Publish(ctx, Line{DeploymentID: 2, Stream: "stdout", Text: "unrelated"})

	select {
	case line := <-ch:
		t.Fatalf("unexpected line delivered: %+v", line)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeOnContextCancel(t *testing.T) {
	b := New(nil, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())

	b.Subscribe(ctx, 1)
	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b.SubscriberCount(1) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("subscriber was not removed after context cancellation")
}
