package eventbus

import (
	"sync"
	"testing"
)

func TestPublishDelivers(t *testing.T) {
	t.Parallel()
	bus := New[int]()
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	bus.Publish("tick", 7)

	select {
	case e := <-ch:
		if e.Topic != "tick" || e.Payload != 7 {
			t.Fatalf("got %v %d", e.Topic, e.Payload)
		}
		if e.Time.IsZero() {
			t.Fatal("event not stamped")
		}
	default:
		t.Fatal("publish did not deliver")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()
	bus := New[int]()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	// Second publish finds the buffer full and must return immediately,
	// losing the event.
	bus.Publish("tick", 1)
	bus.Publish("tick", 2)

	if e := <-ch; e.Payload != 1 {
		t.Fatalf("first payload = %d, want 1", e.Payload)
	}
	select {
	case e := <-ch:
		t.Fatalf("overflow event delivered: %d", e.Payload)
	default:
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	t.Parallel()
	bus := New[int]()
	ch, cancel := bus.Subscribe(1)

	cancel()
	cancel() // second call must not close again or panic

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after unsubscribe")
	}
	bus.Publish("tick", 3) // no live subscribers; must not panic
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	t.Parallel()
	bus := New[int]()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			bus.Publish("tick", i)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, cancel := bus.Subscribe(1)
				cancel()
			}
		}()
	}
	wg.Wait()
	<-done
}
