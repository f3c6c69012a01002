package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe(TopicReminderFired)
	defer b.Unsubscribe(sub)

	b.Publish(TopicReminderFired, ReminderEvent{TaskID: "t1"})

	select {
	case ev := <-sub.Ch():
		if ev.Topic != TopicReminderFired {
			t.Fatalf("topic = %s", ev.Topic)
		}
		payload, ok := ev.Payload.(ReminderEvent)
		if !ok || payload.TaskID != "t1" {
			t.Fatalf("payload = %#v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestPrefixMatching(t *testing.T) {
	b := New()
	all := b.Subscribe("reminder.")
	other := b.Subscribe("task.")
	defer b.Unsubscribe(all)
	defer b.Unsubscribe(other)

	b.Publish(TopicReminderSnoozed, nil)

	select {
	case <-all.Ch():
	case <-time.After(time.Second):
		t.Fatal("prefix subscriber missed event")
	}
	select {
	case ev := <-other.Ch():
		t.Fatalf("unexpected event on task prefix: %s", ev.Topic)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	b.Unsubscribe(sub)
	if _, ok := <-sub.Ch(); ok {
		t.Fatal("channel should be closed")
	}
	if b.SubscriberCount() != 0 {
		t.Fatal("subscriber not removed")
	}
	// Double unsubscribe must not panic.
	b.Unsubscribe(sub)
}

func TestSlowConsumerDropsEvents(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	for i := 0; i < defaultBufferSize+10; i++ {
		b.Publish(TopicTaskUpdated, i)
	}
	// The buffer holds exactly defaultBufferSize; the rest were dropped.
	count := 0
	for {
		select {
		case <-sub.Ch():
			count++
		default:
			if count != defaultBufferSize {
				t.Fatalf("buffered = %d, want %d", count, defaultBufferSize)
			}
			return
		}
	}
}
