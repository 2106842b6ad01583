package sse

import (
	"strings"
	"testing"
	"time"
)

func recv(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return string(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return ""
	}
}

func TestSubscribeAndPublish(t *testing.T) {
	b := NewBroker("case-001", time.Hour)
	defer b.Close()

	ch := b.Subscribe()
	if n := b.ClientCount(); n != 1 {
		t.Fatalf("clients = %d, want 1", n)
	}

	b.Publish(Event{Type: "case.updated", Data: map[string]string{"case_id": "case-001"}})
	msg := recv(t, ch)
	if !strings.HasPrefix(msg, "event: case.updated\n") {
		t.Fatalf("msg = %q", msg)
	}
	if !strings.Contains(msg, `"case_id":"case-001"`) {
		t.Fatalf("msg = %q", msg)
	}

	b.Unsubscribe(ch)
	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not removed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestItemEvents(t *testing.T) {
	b := NewBroker("case-001", time.Hour)
	defer b.Close()

	ch := b.Subscribe()
	b.PublishItemEvent("created", "examiners/alice/findings.json")

	msg := recv(t, ch)
	if !strings.HasPrefix(msg, "event: items.created\n") {
		t.Fatalf("msg = %q", msg)
	}
	if !strings.Contains(msg, "examiners/alice/findings.json") {
		t.Fatalf("msg = %q", msg)
	}

	// The first item event also triggers the throttled summary, stamped
	// with the broker's case id.
	msg = recv(t, ch)
	if !strings.HasPrefix(msg, "event: case.updated\n") {
		t.Fatalf("msg = %q", msg)
	}
	if !strings.Contains(msg, `"case_id":"case-001"`) {
		t.Fatalf("summary missing case id: %q", msg)
	}

	// Within the throttle window a second item event carries no summary.
	b.PublishItemEvent("updated", "examiners/alice/findings.json")
	msg = recv(t, ch)
	if !strings.HasPrefix(msg, "event: items.updated\n") {
		t.Fatalf("msg = %q", msg)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event %q", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCloseShutsDownClients(t *testing.T) {
	b := NewBroker("case-001", time.Hour)
	ch := b.Subscribe()
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel after broker close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}

	// Operations after close are no-ops.
	b.Publish(Event{Type: "case.updated", Data: nil})
	b.PublishItemEvent("created", "x")
	if n := b.ClientCount(); n != 0 {
		t.Fatalf("clients = %d after close", n)
	}
	late := b.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("subscribe after close must return a closed channel")
	}
}

func TestSlowClientDoesNotBlockBroker(t *testing.T) {
	b := NewBroker("case-001", time.Hour)
	defer b.Close()

	slow := b.Subscribe()
	_ = slow // never drained

	fast := b.Subscribe()
	// More events than the slow client's buffer.
	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: "case.updated", Data: map[string]int{"i": i}})
	}
	// The fast client still receives events; the broker loop never stalls.
	recv(t, fast)
}
