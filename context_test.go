package groupchat

import (
	"context"
	"testing"
)

func TestWithChatID(t *testing.T) {
	ctx := WithChatID(context.Background(), "chat-123")

	id, ok := GetChatID(ctx)
	if !ok {
		t.Fatal("expected to retrieve chat id")
	}
	if id != "chat-123" {
		t.Errorf("expected chat-123, got %s", id)
	}

	if _, ok := GetChatID(context.Background()); ok {
		t.Error("expected no chat id on a bare context")
	}
}

func TestWithRound(t *testing.T) {
	ctx := withRound(context.Background(), 7)

	round, ok := GetRound(ctx)
	if !ok || round != 7 {
		t.Errorf("expected round 7, got %d (ok=%v)", round, ok)
	}
}

func TestEventPublisherContext(t *testing.T) {
	var got []Event
	ctx := WithEventPublisher(context.Background(), func(e Event) { got = append(got, e) })

	publish(ctx, RoundLimit(20))
	publish(context.Background(), RoundLimit(20))

	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}

	// A nil publisher is treated as absent.
	ctx = WithEventPublisher(context.Background(), nil)
	if _, ok := GetEventPublisher(ctx); ok {
		t.Error("expected nil publisher to be ignored")
	}
	publish(ctx, RoundLimit(20))
}

func TestWithTracer(t *testing.T) {
	tracer, _ := newRecordingTracer()
	ctx := WithTracer(context.Background(), tracer)

	if GetTracer(ctx) != Tracer(tracer) {
		t.Error("expected the tracer stored in the context")
	}
}
