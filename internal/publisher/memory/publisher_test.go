package memory

import (
	"context"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id1, err := pub.Publish(ctx, "measurements", map[string]int64{"total_bytes": 350})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(ctx, "alerts", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	if got := len(pub.Messages("")); got != 2 {
		t.Fatalf("expected 2 messages, got %d", got)
	}
	only := pub.Messages("measurements")
	if len(only) != 1 || only[0].Topic != "measurements" {
		t.Fatalf("topic filter failed: %+v", only)
	}

	only[0].Topic = "modified"
	if pub.Messages("measurements")[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherRequiresTopic(t *testing.T) {
	t.Parallel()

	if _, err := New().Publish(context.Background(), "", "x"); err == nil {
		t.Fatal("expected error for empty topic")
	}
}
