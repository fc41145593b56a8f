package bus

import (
	"testing"
	"time"

	"autopilot/internal/domain"
)

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	b := New(2, testEBLogger())
	defer b.Close()

	b.Publish(domain.InboundMessage{ConversationID: "C", Content: "hi"})
	select {
	case msg := <-b.Subscribe():
		if msg.Content != "hi" {
			t.Errorf("got %q", msg.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestInMemoryBus_OutboundObserversInNameOrder(t *testing.T) {
	b := New(1, testEBLogger())
	defer b.Close()

	var order []string
	b.OnOutbound("metrics", func(domain.OutboundMessage) { order = append(order, "metrics") })
	b.OnOutbound("engine", func(domain.OutboundMessage) { order = append(order, "engine") })
	b.OnOutbound("metrics", func(domain.OutboundMessage) { order = append(order, "metrics2") })

	b.SendOutbound(domain.OutboundMessage{ConversationID: "C", Content: "x"})

	if len(order) != 2 || order[0] != "engine" || order[1] != "metrics2" {
		t.Errorf("unexpected observer order: %v", order)
	}
}

func TestInMemoryBus_PublishAfterClose(t *testing.T) {
	b := New(1, testEBLogger())
	b.Close()
	b.Close()
	// Must not panic on a closed channel.
	b.Publish(domain.InboundMessage{Content: "late"})
}
