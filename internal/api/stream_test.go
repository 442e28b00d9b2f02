package api

import (
	"io"
	"log/slog"
	"testing"
)

func streamHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAcceptSet(t *testing.T) {
	t.Parallel()

	if got := acceptSet(nil); got != nil {
		t.Errorf("acceptSet(nil) = %v, want nil (accept everything)", got)
	}
	if got := acceptSet([]string{"", "  "}); got != nil {
		t.Errorf("acceptSet(blank entries) = %v, want nil", got)
	}
	got := acceptSet([]string{" execution_completed ", EventExecutionFailed})
	if len(got) != 2 || !got[EventExecutionCompleted] || !got[EventExecutionFailed] {
		t.Errorf("acceptSet = %v, want the two trimmed event types", got)
	}
}

func TestDispatchFiltersByEventType(t *testing.T) {
	t.Parallel()

	h := streamHub()
	fills := &streamClient{send: make(chan []byte, 4), accept: map[string]bool{EventExecutionCompleted: true}}
	all := &streamClient{send: make(chan []byte, 4)}
	h.clients[fills] = struct{}{}
	h.clients[all] = struct{}{}

	h.dispatch(NewExecutionEvent(EventSignalReceived, nil))
	if len(fills.send) != 0 {
		t.Errorf("filtered client got %d events for an unsubscribed type, want 0", len(fills.send))
	}
	if len(all.send) != 1 {
		t.Errorf("unfiltered client got %d events, want 1", len(all.send))
	}

	h.dispatch(NewExecutionEvent(EventExecutionCompleted, nil))
	if len(fills.send) != 1 {
		t.Errorf("filtered client got %d events for its subscribed type, want 1", len(fills.send))
	}
}

func TestDispatchDropsSlowClient(t *testing.T) {
	t.Parallel()

	h := streamHub()
	slow := &streamClient{send: make(chan []byte, 1)}
	h.clients[slow] = struct{}{}

	h.dispatch(NewExecutionEvent(EventExecutionCompleted, nil))
	h.dispatch(NewExecutionEvent(EventExecutionFailed, nil))

	if _, ok := h.clients[slow]; ok {
		t.Error("client with a full buffer should have been dropped")
	}
	// Its send channel must be closed so the write pump exits.
	<-slow.send
	if _, ok := <-slow.send; ok {
		t.Error("dropped client's send channel should be closed")
	}
}
