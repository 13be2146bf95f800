package subscriber

import "testing"

func TestHubPublishDeliversToAllSubscribers(t *testing.T) {
	h := New[int]()
	a := h.Subscribe(4)
	b := h.Subscribe(4)

	h.Publish(1)
	h.Publish(2)

	if v := <-a; v != 1 {
		t.Fatalf("subscriber a: got %d, want 1", v)
	}
	if v := <-a; v != 2 {
		t.Fatalf("subscriber a: got %d, want 2", v)
	}
	if v := <-b; v != 1 {
		t.Fatalf("subscriber b: got %d, want 1", v)
	}
}

func TestHubPublishDropsOldestWhenFull(t *testing.T) {
	h := New[int]()
	ch := h.Subscribe(2)

	h.Publish(1)
	h.Publish(2)
	h.Publish(3) // queue full at {1,2}; should drop 1 and keep {2,3}

	if v := <-ch; v != 2 {
		t.Fatalf("got %d, want 2 (oldest should have been dropped)", v)
	}
	if v := <-ch; v != 3 {
		t.Fatalf("got %d, want 3", v)
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := New[int]()
	ch := h.Subscribe(1)
	h.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}
	if h.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", h.Len())
	}
}

func TestHubCloseClosesAllSubscribers(t *testing.T) {
	h := New[int]()
	a := h.Subscribe(1)
	b := h.Subscribe(1)
	h.Close()

	if _, ok := <-a; ok {
		t.Fatal("expected a to be closed")
	}
	if _, ok := <-b; ok {
		t.Fatal("expected b to be closed")
	}
}
