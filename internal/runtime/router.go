package runtime

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueCapPerAgent, DefaultMessageTTL, and DefaultMaxAttempts mirror
// spec.md §6's configuration defaults.
const (
	DefaultQueueCapPerAgent = 10_000
	DefaultMessageTTL       = 60 * time.Second
	DefaultMaxAttempts      = 5
)

// switchSource is the narrow view of the SwitchEngine the Router needs to
// read the active (topology, epoch) pair once per route call. It is set
// after construction via AttachSwitchEngine, mirroring the optional,
// late-bound wiring in the Python reference (Router accepts an
// ISwitchEngine that is, in practice, the very SwitchEngine that wraps it).
type switchSource interface {
	Active() (Topology, Epoch)
}

// Router maintains bounded per-recipient FIFO queues for two epoch buckets
// (active, next), enforcing epoch gating, TTL, retry, and topology rules.
// All mutations are serialized by a single mutex covering activeEpoch,
// routeToNext, and both queue maps (spec.md §5).
type Router struct {
	mu sync.Mutex

	recipients map[AgentID]bool

	activeEpoch Epoch
	routeToNext bool
	active      map[AgentID]*perRecipientQueue
	next        map[AgentID]*perRecipientQueue

	cap int
	ttl time.Duration

	maxAttempts int
	guard       *TopologyGuard
	switchSrc   switchSource

	log *slog.Logger
}

// RouterOption configures optional Router parameters.
type RouterOption func(*Router)

func WithQueueCap(cap int) RouterOption {
	return func(r *Router) {
		if cap > 0 {
			r.cap = cap
		}
	}
}

func WithMessageTTL(ttl time.Duration) RouterOption {
	return func(r *Router) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithMaxAttempts(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func WithTopologyGuard(g *TopologyGuard) RouterOption {
	return func(r *Router) { r.guard = g }
}

func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRouter constructs a Router over the fixed closed set of recipients.
func NewRouter(recipients []AgentID, opts ...RouterOption) *Router {
	if len(recipients) == 0 {
		panic("apex/runtime: Router requires at least one recipient")
	}

	r := &Router{
		recipients:  make(map[AgentID]bool, len(recipients)),
		cap:         DefaultQueueCapPerAgent,
		ttl:         DefaultMessageTTL,
		maxAttempts: DefaultMaxAttempts,
		guard:       NewTopologyGuard(2),
		log:         slog.Default(),
	}
	for _, a := range recipients {
		r.recipients[a] = true
	}
	for _, opt := range opts {
		opt(r)
	}
	r.active = r.freshQueues()
	r.next = r.freshQueues()
	return r
}

func (r *Router) freshQueues() map[AgentID]*perRecipientQueue {
	m := make(map[AgentID]*perRecipientQueue, len(r.recipients))
	for a := range r.recipients {
		m[a] = newPerRecipientQueue(r.cap)
	}
	return m
}

// AttachSwitchEngine wires the SwitchEngine whose (topology, epoch) pair
// gates routing validation. Must be called before Route is used with
// topology enforcement; Route degrades to epoch-only gating (no
// TopologyGuard checks) if no switch engine is attached, which is only
// useful for isolated Router unit tests.
func (r *Router) AttachSwitchEngine(se switchSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.switchSrc = se
}

// ActiveEpoch returns the current active epoch.
func (r *Router) ActiveEpoch() Epoch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeEpoch
}

// Recipients returns the fixed set of known recipient ids.
func (r *Router) Recipients() []AgentID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AgentID, 0, len(r.recipients))
	for a := range r.recipients {
		out = append(out, a)
	}
	return out
}

// RouteOutcome reports the per-target result of a Route call. For a
// non-broadcast message len(Outcomes) == 1.
type RouteOutcome struct {
	Recipient AgentID
	Err       error
}

// Route validates and enqueues msg. For msg.Recipient == BroadcastRecipient
// it expands to one independent unicast per known recipient other than the
// sender, each carrying a freshly-minted MsgID; a failure on one target does
// not prevent enqueue on the others.
func (r *Router) Route(msg *Message) []RouteOutcome {
	topology, _ := r.currentTopology()

	if msg.Recipient == BroadcastRecipient {
		targets := r.broadcastTargets(msg.Sender)

		if err := r.guard.ValidateBroadcast(topology, msg.Sender, len(targets)); err != nil {
			outcomes := make([]RouteOutcome, len(targets))
			for i, t := range targets {
				outcomes[i] = RouteOutcome{Recipient: t, Err: err}
			}
			return outcomes
		}

		outcomes := make([]RouteOutcome, 0, len(targets))
		for _, target := range targets {
			if err := r.guard.ValidatePair(topology, msg.Sender, target); err != nil {
				outcomes = append(outcomes, RouteOutcome{Recipient: target, Err: err})
				continue
			}
			dup := msg.clone()
			dup.MsgID = uuid.New().String()
			dup.Recipient = target
			err := r.routeOne(dup, target)
			outcomes = append(outcomes, RouteOutcome{Recipient: target, Err: err})
		}
		return outcomes
	}

	if !r.recipients[msg.Recipient] {
		markDrop(msg, DropInvalidRecipient)
		return []RouteOutcome{{Recipient: msg.Recipient, Err: &InvalidRecipientError{Recipient: msg.Recipient}}}
	}
	if err := r.guard.ValidatePair(topology, msg.Sender, msg.Recipient); err != nil {
		markDrop(msg, DropTopologyViolation)
		return []RouteOutcome{{Recipient: msg.Recipient, Err: err}}
	}
	err := r.routeOne(msg, msg.Recipient)
	return []RouteOutcome{{Recipient: msg.Recipient, Err: err}}
}

func (r *Router) currentTopology() (Topology, Epoch) {
	if r.switchSrc == nil {
		return "", r.ActiveEpoch()
	}
	return r.switchSrc.Active()
}

func (r *Router) broadcastTargets(sender AgentID) []AgentID {
	r.mu.Lock()
	defer r.mu.Unlock()
	targets := make([]AgentID, 0, len(r.recipients))
	for a := range r.recipients {
		if a != sender {
			targets = append(targets, a)
		}
	}
	return targets
}

// routeOne enqueues msg for a single concrete target, stamping topo_epoch,
// created_ts (when unset) and expires_ts, honoring the epoch-gating flag (R4: the Router, not the
// caller, is authoritative for topo_epoch).
func (r *Router) routeOne(msg *Message, target AgentID) error {
	if msg.CreatedTS.IsZero() {
		msg.CreatedTS = time.Now()
	}
	if msg.ExpiresTS.IsZero() {
		msg.ExpiresTS = msg.CreatedTS.Add(r.ttl)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var q *perRecipientQueue
	if r.routeToNext {
		q = r.next[target]
		msg.TopoEpoch = r.activeEpoch + 1
	} else {
		q = r.active[target]
		msg.TopoEpoch = r.activeEpoch
	}

	if q.full() {
		markDrop(msg, DropQueueFull)
		r.log.Warn("queue full", slog.String("recipient", string(target)), slog.String("msg_id", msg.MsgID))
		return &QueueFullError{Recipient: target, Cap: r.cap}
	}
	q.pushBack(msg)
	r.log.Info("routed message",
		slog.String("msg_id", msg.MsgID),
		slog.String("sender", string(msg.Sender)),
		slog.String("recipient", string(target)),
		slog.Uint64("epoch", uint64(msg.TopoEpoch)))
	return nil
}

// Dequeue pops the oldest non-expired message for agent from its active
// queue only; next-epoch messages are never observable before commit.
func (r *Router) Dequeue(agent AgentID) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recipients[agent] {
		return nil, &InvalidRecipientError{Recipient: agent}
	}

	q := r.active[agent]
	now := time.Now()
	for {
		m := q.popFront()
		if m == nil {
			return nil, nil
		}
		if m.isExpired(now) {
			markDrop(m, DropExpired)
			r.log.Info("message expired", slog.String("msg_id", m.MsgID), slog.String("recipient", string(agent)))
			continue
		}
		return m, nil
	}
}

// Retry re-enqueues msg at the tail of the active queue for its recipient,
// incrementing attempt and refreshing TTL. Returns MaxAttemptsError once
// attempt has reached the configured cap, or QueueFullError if the target
// queue is saturated.
func (r *Router) Retry(msg *Message) error {
	if msg.Attempt >= r.maxAttempts {
		markDrop(msg, DropMaxAttempts)
		return &MaxAttemptsError{MsgID: msg.MsgID}
	}

	msg.Attempt++
	msg.Redelivered = true
	msg.DropReason = nil
	now := time.Now()
	msg.CreatedTS = now
	msg.ExpiresTS = now.Add(r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	q := r.active[msg.Recipient]
	if q.full() {
		markDrop(msg, DropQueueFull)
		return &QueueFullError{Recipient: msg.Recipient, Cap: r.cap}
	}
	q.pushBack(msg)
	return nil
}

// --- Switch-protocol hooks, called only by SwitchEngine. ---

// startSwitch routes new ingress into the next-epoch queues (PREPARE).
func (r *Router) startSwitch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routeToNext = true
}

// activeHasPending reports whether any active-epoch queue still holds
// messages (used by SwitchEngine's quiesce loop).
func (r *Router) activeHasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.active {
		if !q.empty() {
			return true
		}
	}
	return false
}

// commitSwitch atomically bumps the epoch and swaps next into active
// (COMMIT). No next-epoch message is observable to consumers before this
// returns (S2).
func (r *Router) commitSwitch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeEpoch++
	r.active, r.next = r.next, r.freshQueues()
	r.routeToNext = false
}

// abortSwitch drains each recipient's next queue in FIFO order onto the
// tail of its active queue (R3), returning per-reason drop counts for
// anything that didn't fit.
func (r *Router) abortSwitch() map[DropReason]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := map[DropReason]int{}
	for recipient, qn := range r.next {
		qa := r.active[recipient]
		overflow := qn.drainInto(qa)
		for _, m := range overflow {
			markDrop(m, DropQueueFull)
			dropped[DropQueueFull]++
		}
	}
	r.next = r.freshQueues()
	r.routeToNext = false
	return dropped
}
