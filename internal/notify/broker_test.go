package notify

import (
	"testing"

	"go.uber.org/zap"
)

func TestBrokerFansOutToAllSubscribers(t *testing.T) {
	b := NewBroker[int](zap.NewNop(), "test")
	first, cancelFirst := b.Subscribe(4)
	defer cancelFirst()
	second, cancelSecond := b.Subscribe(4)
	defer cancelSecond()

	b.Publish(7)

	for i, ch := range []<-chan int{first, second} {
		select {
		case v := <-ch:
			if v != 7 {
				t.Errorf("subscriber %d got %d, want 7", i, v)
			}
		default:
			t.Errorf("subscriber %d received nothing", i)
		}
	}
}

func TestBrokerDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBroker[int](zap.NewNop(), "test")
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(1)
	b.Publish(2) // must not block

	if v := <-ch; v != 1 {
		t.Fatalf("got %d, want 1", v)
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected buffered value %d", v)
	default:
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker[string](zap.NewNop(), "test")
	ch, cancel := b.Subscribe(1)

	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	if n := b.Subscribers(); n != 0 {
		t.Fatalf("Subscribers() = %d, want 0", n)
	}
	b.Publish("ignored")
}

func TestBrokerCloseClosesEverything(t *testing.T) {
	b := NewBroker[int](zap.NewNop(), "test")
	ch, cancel := b.Subscribe(1)

	b.Close()
	if _, ok := <-ch; ok {
		t.Fatal("channel open after Close")
	}
	cancel()

	late, _ := b.Subscribe(1)
	if _, ok := <-late; ok {
		t.Fatal("subscription after Close returned an open channel")
	}
	b.Publish(1)
}
