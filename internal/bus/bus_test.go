package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opencredit/kestrel/internal/domain"
)

func TestChannelBusPublishSubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	received := make(chan *domain.Message, 1)
	sub, err := b.Subscribe(ctx, tenantID, domain.TopicBatchAppraised, func(ctx context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if sub.Topic() != domain.TopicBatchAppraised {
		t.Errorf("Topic() = %s", sub.Topic())
	}

	if err := b.Publish(ctx, tenantID, domain.TopicBatchAppraised, []byte(`{"run_id":"run-1"}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg.TenantID != tenantID {
			t.Errorf("tenant = %s", msg.TenantID)
		}
		if string(msg.Payload) != `{"run_id":"run-1"}` {
			t.Errorf("payload = %s", msg.Payload)
		}
		if msg.ID == "" {
			t.Error("expected message ID")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestChannelBusTenantIsolation(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()

	ctx := context.Background()

	var count atomic.Int64
	sub, err := b.Subscribe(ctx, "tenant-001", domain.TopicBatchIngested, func(ctx context.Context, msg *domain.Message) error {
		count.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	// Publish to a different tenant on the same topic.
	if err := b.Publish(ctx, "tenant-002", domain.TopicBatchIngested, []byte("x")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if count.Load() != 0 {
		t.Errorf("received %d messages from another tenant, want 0", count.Load())
	}
}

func TestChannelBusRequiresTenantID(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()

	ctx := context.Background()

	if err := b.Publish(ctx, "", "topic", nil); err == nil {
		t.Error("expected error for empty tenantID on Publish")
	}
	if _, err := b.Subscribe(ctx, "", "topic", nil); err == nil {
		t.Error("expected error for empty tenantID on Subscribe")
	}
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(10)

	ctx := context.Background()
	if err := b.Ping(ctx); err != nil {
		t.Errorf("Ping before close failed: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := b.Ping(ctx); err == nil {
		t.Error("expected Ping to fail after close")
	}
	if err := b.Publish(ctx, "tenant-001", "topic", nil); err == nil {
		t.Error("expected Publish to fail after close")
	}

	// Second close is a no-op.
	if err := b.Close(); err != nil {
		t.Errorf("double Close failed: %v", err)
	}
}

func TestBusFactory(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 8})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.Close()

	if _, err := New(domain.EventBusConfig{Type: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}
