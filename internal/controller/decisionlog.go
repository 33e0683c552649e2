package controller

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// decisionJSON and rewardJSON are the wire shapes persisted to JSONL,
// decoupled from the in-memory record types so field names stay stable
// even if the Go structs are reshaped later.
type decisionJSON struct {
	Step            int       `json:"step"`
	Topology        string    `json:"topology"`
	X               []float64 `json:"x"`
	Action          string    `json:"action"`
	Epsilon         float64   `json:"epsilon"`
	SwitchAttempted bool      `json:"switch_attempted"`
	SwitchCommitted bool      `json:"switch_committed"`
	Epoch           uint64    `json:"epoch"`
	TopologyAfter   string    `json:"topology_after,omitempty"`
	SwitchError     string    `json:"switch_error,omitempty"`
	TickMs          float64   `json:"tick_ms"`
}

type rewardJSON struct {
	Step            int     `json:"step"`
	DeltaPassRate   float64 `json:"delta_pass_rate"`
	DeltaTokens     int     `json:"delta_tokens"`
	PhaseAdvance    bool    `json:"phase_advance"`
	SwitchCommitted bool    `json:"switch_committed"`
	RStep           float64 `json:"r_step"`
}

// FlushJSONL writes the accumulated decision log to decisionsPath and,
// if rewardsPath is non-empty and the reward log is non-empty, the reward
// log to rewardsPath. Both are newline-delimited JSON, one record per
// line, parent directories created as needed.
func (c *Controller) FlushJSONL(decisionsPath, rewardsPath string) error {
	if err := writeJSONL(decisionsPath, func(enc *json.Encoder) error {
		for _, d := range c.decisionLog {
			if err := enc.Encode(decisionJSON{
				Step:            d.Step,
				Topology:        string(d.Topology),
				X:               d.Features[:],
				Action:          d.Action.String(),
				Epsilon:         d.Epsilon,
				SwitchAttempted: d.SwitchAttempted,
				SwitchCommitted: d.SwitchCommitted,
				Epoch:           uint64(d.Epoch),
				TopologyAfter:   string(d.TopologyAfter),
				SwitchError:     d.SwitchError,
				TickMs:          d.TickMs,
			}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if rewardsPath == "" || len(c.rewardLog) == 0 {
		return nil
	}
	return writeJSONL(rewardsPath, func(enc *json.Encoder) error {
		for _, r := range c.rewardLog {
			if err := enc.Encode(rewardJSON{
				Step:            r.Step,
				DeltaPassRate:   r.DeltaPassRate,
				DeltaTokens:     r.DeltaTokens,
				PhaseAdvance:    r.PhaseAdvance,
				SwitchCommitted: r.SwitchCommitted,
				RStep:           r.RStep,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func writeJSONL(path string, write func(*json.Encoder) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	return write(enc)
}
