package runtime

// Topology names the interaction topology currently governing routing
// legality.
type Topology string

const (
	TopologyStar   Topology = "star"
	TopologyChain  Topology = "chain"
	TopologyFlat   Topology = "flat"
)

// Fixed role identifiers, per spec.md §1/§4.2.
const (
	RolePlanner    AgentID = "planner"
	RoleCoder      AgentID = "coder"
	RoleRunner     AgentID = "runner"
	RoleCritic     AgentID = "critic"
	RoleSummarizer AgentID = "summarizer"
)

// chainOrderWithSummarizer and chainOrderWithoutSummarizer are the two
// accepted chain-topology pipelines (spec.md Design Notes (a): the core
// MUST accept either and MUST NOT assume Summarizer's presence).
var (
	chainOrderWithSummarizer    = []AgentID{RolePlanner, RoleCoder, RoleRunner, RoleCritic, RoleSummarizer, RolePlanner}
	chainOrderWithoutSummarizer = []AgentID{RolePlanner, RoleCoder, RoleRunner, RoleCritic, RolePlanner}
)

func chainPairs(order []AgentID) map[[2]AgentID]bool {
	pairs := make(map[[2]AgentID]bool, len(order)-1)
	for i := 0; i < len(order)-1; i++ {
		pairs[[2]AgentID{order[i], order[i+1]}] = true
	}
	return pairs
}

var (
	chainPairsWithSummarizer    = chainPairs(chainOrderWithSummarizer)
	chainPairsWithoutSummarizer = chainPairs(chainOrderWithoutSummarizer)
)

// TopologyGuard is a stateless validator of sender/recipient pairs and
// broadcast fanout limits (star/chain/flat rules are selected by the
// topology argument on each call, so a single TopologyGuard serves all
// three).
type TopologyGuard struct {
	// FanoutLimit bounds the number of recipients a flat-topology broadcast
	// may target (default 2, spec.md §6).
	FanoutLimit int
}

// NewTopologyGuard constructs a guard with the given flat-topology fanout
// limit.
func NewTopologyGuard(fanoutLimit int) *TopologyGuard {
	if fanoutLimit <= 0 {
		fanoutLimit = 2
	}
	return &TopologyGuard{FanoutLimit: fanoutLimit}
}

// ValidatePair reports whether sender may address recipient directly under
// topology.
func (g *TopologyGuard) ValidatePair(topology Topology, sender, recipient AgentID) error {
	if sender == SystemSender {
		return nil
	}
	switch topology {
	case TopologyStar:
		return g.validateStar(sender, recipient)
	case TopologyChain:
		return g.validateChain(sender, recipient)
	case TopologyFlat:
		return nil
	default:
		// Unknown topology: neutral, allow by default.
		return nil
	}
}

// ValidateBroadcast reports whether sender may broadcast to recipientCount
// targets under topology.
func (g *TopologyGuard) ValidateBroadcast(topology Topology, sender AgentID, recipientCount int) error {
	switch topology {
	case TopologyFlat:
		if recipientCount > g.FanoutLimit {
			return &TopologyViolationError{
				Topology: string(topology), Sender: sender,
				Rule: "flat broadcast fanout exceeds limit",
			}
		}
		return nil
	case TopologyStar:
		if sender != RolePlanner {
			return &TopologyViolationError{
				Topology: string(topology), Sender: sender,
				Rule: "only the hub may broadcast in star topology",
			}
		}
		return nil
	case TopologyChain:
		return &TopologyViolationError{
			Topology: string(topology), Sender: sender,
			Rule: "broadcast is disallowed in chain topology",
		}
	default:
		return nil
	}
}

func (g *TopologyGuard) validateStar(sender, recipient AgentID) error {
	if sender != RolePlanner && recipient != RolePlanner {
		return &TopologyViolationError{
			Topology: string(TopologyStar), Sender: sender, Recipient: recipient,
			Rule: "non-hub must send to hub",
		}
	}
	return nil
}

func (g *TopologyGuard) validateChain(sender, recipient AgentID) error {
	pair := [2]AgentID{sender, recipient}
	if chainPairsWithSummarizer[pair] || chainPairsWithoutSummarizer[pair] {
		return nil
	}
	return &TopologyViolationError{
		Topology: string(TopologyChain), Sender: sender, Recipient: recipient,
		Rule: "not in allowed chain order",
	}
}
