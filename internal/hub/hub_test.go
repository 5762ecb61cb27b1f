package hub

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := New(nil)
	first := h.Subscribe()
	second := h.Subscribe()
	defer first.Close()
	defer second.Close()

	h.Publish(Event{Type: EventTypeExecutionUpdate, Data: map[string]interface{}{"execution_id": "e1"}})

	for _, sub := range []*Subscriber{first, second} {
		select {
		case event := <-sub.Events():
			assert.Equal(t, EventTypeExecutionUpdate, event.Type)
			assert.Equal(t, "e1", event.Data["execution_id"])
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestPublishOrderPreserved(t *testing.T) {
	h := New(nil)
	sub := h.Subscribe()
	defer sub.Close()

	for i := 0; i < 10; i++ {
		h.Publish(Event{Type: EventTypeExecutionUpdate, Data: map[string]interface{}{"seq": i}})
	}

	for i := 0; i < 10; i++ {
		select {
		case event := <-sub.Events():
			assert.Equal(t, i, event.Data["seq"])
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
}

func TestSlowSubscriberDropped(t *testing.T) {
	h := New(nil)
	slow := h.Subscribe()
	healthy := h.Subscribe()
	defer healthy.Close()

	// Never read from slow; overflow its buffer while keeping the healthy
	// subscriber drained.
	for i := 0; i < subscriberBuffer+1; i++ {
		h.Publish(Event{Type: EventTypeExecutionUpdate, Data: map[string]interface{}{"seq": i}})
		<-healthy.Events()
	}

	assert.Equal(t, 1, h.SubscriberCount())

	// The dropped subscriber's channel is closed after its buffered
	// backlog drains.
	received := 0
	for range slow.Events() {
		received++
	}
	assert.Equal(t, subscriberBuffer, received)

	// The healthy subscriber is unaffected and still receives new events.
	h.Publish(Event{Type: EventTypeConnected, Data: nil})
	select {
	case event := <-healthy.Events():
		assert.Equal(t, EventTypeConnected, event.Type)
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber stopped receiving")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := New(nil)
	sub := h.Subscribe()

	sub.Close()
	sub.Close()

	assert.Equal(t, 0, h.SubscriberCount())

	// Publishing after all subscribers are gone must not block or panic.
	done := make(chan struct{})
	go func() {
		h.Publish(Event{Type: EventTypeConnected})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish with no subscribers blocked")
	}
}

func TestConcurrentPublishers(t *testing.T) {
	h := New(nil)
	sub := h.Subscribe()
	defer sub.Close()

	const publishers = 4
	const perPublisher = 8

	for p := 0; p < publishers; p++ {
		go func(p int) {
			for i := 0; i < perPublisher; i++ {
				h.Publish(Event{Type: EventTypeExecutionUpdate, Data: map[string]interface{}{
					"publisher": fmt.Sprintf("p%d", p),
					"seq":       i,
				}})
			}
		}(p)
	}

	// Per-publisher order must hold even when publishers interleave.
	lastSeq := map[string]int{}
	for n := 0; n < publishers*perPublisher; n++ {
		select {
		case event := <-sub.Events():
			publisher := event.Data["publisher"].(string)
			seq := event.Data["seq"].(int)
			if last, ok := lastSeq[publisher]; ok {
				assert.Greater(t, seq, last, "events from %s out of order", publisher)
			}
			lastSeq[publisher] = seq
		case <-time.After(time.Second):
			t.Fatalf("received only %d of %d events", n, publishers*perPublisher)
		}
	}
}
