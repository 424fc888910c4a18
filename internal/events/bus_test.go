package events

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	bus := NewEventBus(16)

	var mu sync.Mutex
	var got []EventType
	bus.Subscribe(EventTypeGroupTriggered, func(e Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
	})

	bus.Publish(NewGroupTriggeredEvent("ocr", "g1", "keyword"))
	bus.Publish(NewModuleStoppedEvent("ocr"))
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != EventTypeGroupTriggered {
		t.Errorf("Expected only the triggered event, got %v", got)
	}
}

func TestSubscribeAllSeesEveryType(t *testing.T) {
	bus := NewEventBus(16)

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(NewModuleStartedEvent("timed", 2))
	bus.Publish(NewErrorEvent("engine", "ocr", errors.New("x"), nil))
	bus.Publish(NewPermissionRequiredEvent("accessibility"))
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Errorf("Expected 3 deliveries, got %d", count)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus(4)
	called := false
	id := bus.Subscribe(EventTypeError, func(Event) { called = true })
	bus.Unsubscribe(id)

	bus.Publish(NewErrorEvent("engine", "x", errors.New("boom"), nil))
	bus.Stop()

	if called {
		t.Error("Handler ran after unsubscribe")
	}
	if n := bus.GetSubscriberCount(EventTypeError); n != 0 {
		t.Errorf("Expected 0 subscribers, got %d", n)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewEventBus(1)
	block := make(chan struct{})
	bus.SubscribeAll(func(Event) { <-block })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			bus.Publish(NewModuleIdleEvent("color"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
	close(block)
	bus.Stop()

	if bus.Dropped() == 0 {
		t.Error("Expected dropped events to be counted")
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := NewEventBus(4)
	var mu sync.Mutex
	second := false
	bus.SubscribeAll(func(Event) { panic("bad handler") })
	bus.SubscribeAll(func(Event) {
		mu.Lock()
		second = true
		mu.Unlock()
	})

	bus.Publish(NewModuleStoppedEvent("number"))
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	if !second {
		t.Error("A panicking handler prevented delivery to the next one")
	}
}
