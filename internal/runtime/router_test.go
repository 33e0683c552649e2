package runtime

import (
	"testing"
	"time"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	return NewRouter(
		[]AgentID{RolePlanner, RoleCoder, RoleRunner, RoleCritic, RoleSummarizer},
		WithQueueCap(4),
		WithMessageTTL(time.Hour),
		WithMaxAttempts(3),
		WithTopologyGuard(NewTopologyGuard(2)),
	)
}

func TestRouterRouteAndDequeueFIFO(t *testing.T) {
	r := newTestRouter(t)

	for _, id := range []string{"m1", "m2", "m3"} {
		msg := &Message{EpisodeID: "ep", MsgID: id, Sender: SystemSender, Recipient: RolePlanner, Payload: map[string]any{}}
		outcomes := r.Route(msg)
		if outcomes[0].Err != nil {
			t.Fatalf("route %s: %v", id, outcomes[0].Err)
		}
	}

	for _, want := range []string{"m1", "m2", "m3"} {
		got, err := r.Dequeue(RolePlanner)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if got == nil || got.MsgID != want {
			t.Fatalf("dequeue: want %q, got %v", want, got)
		}
	}

	empty, err := r.Dequeue(RolePlanner)
	if err != nil || empty != nil {
		t.Fatalf("expected empty dequeue, got %v, %v", empty, err)
	}
}

func TestRouterRouteInvalidRecipient(t *testing.T) {
	r := newTestRouter(t)
	msg := &Message{EpisodeID: "ep", MsgID: "m1", Sender: SystemSender, Recipient: AgentID("ghost"), Payload: map[string]any{}}
	outcomes := r.Route(msg)
	if outcomes[0].Err == nil {
		t.Fatal("expected InvalidRecipientError")
	}
	if _, ok := outcomes[0].Err.(*InvalidRecipientError); !ok {
		t.Fatalf("expected *InvalidRecipientError, got %T", outcomes[0].Err)
	}
}

func TestRouterRouteQueueFull(t *testing.T) {
	r := newTestRouter(t)
	for i := 0; i < 4; i++ {
		msg := &Message{EpisodeID: "ep", MsgID: string(rune('a' + i)), Sender: SystemSender, Recipient: RolePlanner, Payload: map[string]any{}}
		if outcomes := r.Route(msg); outcomes[0].Err != nil {
			t.Fatalf("route %d: %v", i, outcomes[0].Err)
		}
	}
	overflow := &Message{EpisodeID: "ep", MsgID: "overflow", Sender: SystemSender, Recipient: RolePlanner, Payload: map[string]any{}}
	outcomes := r.Route(overflow)
	if _, ok := outcomes[0].Err.(*QueueFullError); !ok {
		t.Fatalf("expected *QueueFullError, got %v", outcomes[0].Err)
	}
}

func TestRouterBroadcastExpandsToIndependentUnicasts(t *testing.T) {
	// Fanout limit is 2; restrict the recipient set so the sender's
	// non-self targets sit exactly at that limit.
	r := NewRouter([]AgentID{RolePlanner, RoleCoder, RoleRunner},
		WithQueueCap(4), WithMessageTTL(time.Hour), WithTopologyGuard(NewTopologyGuard(2)))
	se := NewSwitchEngine(r, TopologyFlat, 50*time.Millisecond, nil)
	_ = se

	msg := &Message{EpisodeID: "ep", MsgID: "seed", Sender: RolePlanner, Recipient: BroadcastRecipient, Payload: map[string]any{}}
	outcomes := r.Route(msg)
	if len(outcomes) != 2 {
		t.Fatalf("flat fanout limit is 2, expected 2 outcomes, got %d", len(outcomes))
	}
	ids := map[string]bool{}
	for _, o := range outcomes {
		if o.Err != nil {
			t.Fatalf("broadcast leg to %s: %v", o.Recipient, o.Err)
		}
		m, err := r.Dequeue(o.Recipient)
		if err != nil || m == nil {
			t.Fatalf("expected a delivered message for %s", o.Recipient)
		}
		if ids[m.MsgID] {
			t.Fatalf("broadcast legs must carry distinct msg_ids, saw %q twice", m.MsgID)
		}
		ids[m.MsgID] = true
	}
}

func TestRouterRetryIncrementsAttemptThenMaxAttempts(t *testing.T) {
	r := newTestRouter(t)
	msg := &Message{EpisodeID: "ep", MsgID: "m1", Sender: SystemSender, Recipient: RolePlanner, Payload: map[string]any{}}

	for want := 1; want <= 3; want++ {
		if want < 3 {
			if err := r.Retry(msg); err != nil {
				t.Fatalf("retry %d: %v", want, err)
			}
			if msg.Attempt != want {
				t.Fatalf("expected attempt=%d, got %d", want, msg.Attempt)
			}
			if !msg.Redelivered {
				t.Fatal("expected Redelivered to be set after retry")
			}
		}
	}
	// One more retry pushes attempt to maxAttempts(3), which must now fail.
	if err := r.Retry(msg); err != nil {
		t.Fatalf("retry to reach cap: %v", err)
	}
	if err := r.Retry(msg); err == nil {
		t.Fatal("expected MaxAttemptsError once attempt reaches the configured cap")
	} else if _, ok := err.(*MaxAttemptsError); !ok {
		t.Fatalf("expected *MaxAttemptsError, got %T", err)
	}
}

func TestRouterDequeueSkipsExpiredMessages(t *testing.T) {
	r := NewRouter([]AgentID{RolePlanner}, WithQueueCap(4), WithMessageTTL(time.Hour))

	expired := &Message{
		EpisodeID: "ep", MsgID: "expired", Sender: SystemSender, Recipient: RolePlanner,
		Payload: map[string]any{}, CreatedTS: time.Now(), ExpiresTS: time.Now().Add(-time.Minute),
	}
	live := &Message{
		EpisodeID: "ep", MsgID: "live", Sender: SystemSender, Recipient: RolePlanner,
		Payload: map[string]any{}, CreatedTS: time.Now(), ExpiresTS: time.Now().Add(time.Hour),
	}
	r.Route(expired)
	r.Route(live)

	got, err := r.Dequeue(RolePlanner)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got == nil || got.MsgID != "live" {
		t.Fatalf("expected expired message to be skipped, got %v", got)
	}
}
