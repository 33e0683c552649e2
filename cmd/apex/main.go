// Command apex runs a demo multi-agent episode: a fixed set of Scripted
// agents exchange messages through a Router while a bandit-driven
// Controller adapts the interaction topology between star, chain, and
// flat layouts, then writes the full decision/reward trace to JSONL.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"apex/internal/agentio"
	"apex/internal/bandit"
	"apex/internal/config"
	"apex/internal/controller"
	"apex/internal/logging"
	"apex/internal/persistence"
	"apex/internal/runtime"
)

var (
	rootPath       string
	logLevel       string
	ticks          int
	decisionLog    string
	rewardLog      string
	dbDriver       string
	dbDSN          string
	tokenBudget    int
	banditSeed     int64
)

func init() {
	flag.StringVar(&rootPath, "root", ".", "root directory searched for apex.toml")
	flag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.IntVar(&ticks, "ticks", 20, "number of controller ticks to run")
	flag.StringVar(&decisionLog, "decision-log", "", "override path for decision JSONL (default from config)")
	flag.StringVar(&rewardLog, "reward-log", "", "override path for reward JSONL (default from config)")
	flag.StringVar(&dbDriver, "db-driver", "", "optional persistence driver: sqlite3 or mysql")
	flag.StringVar(&dbDSN, "db-dsn", "", "optional persistence DSN")
	flag.IntVar(&tokenBudget, "token-budget", 0, "override token budget (default from config)")
	flag.Int64Var(&banditSeed, "bandit-seed", 0, "override bandit RNG seed (default from config)")
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.DEBUG
	case "warn":
		return logging.WARN
	case "error":
		return logging.ERROR
	default:
		return logging.INFO
	}
}

func main() {
	flag.Parse()

	store := config.NewStore(rootPath, os.Args[1:])
	cfg := store.Resolve()
	if decisionLog != "" {
		cfg.DecisionLogPath = decisionLog
	}
	if rewardLog != "" {
		cfg.RewardLogPath = rewardLog
	}
	if dbDriver != "" {
		cfg.DBDriver = dbDriver
	}
	if dbDSN != "" {
		cfg.DBDSN = dbDSN
	}
	if tokenBudget > 0 {
		cfg.TokenBudget = tokenBudget
	}
	if banditSeed != 0 {
		cfg.BanditSeed = banditSeed
	}

	logging.SetLevel(parseLevel(logLevel))
	logging.Infof("starting apex demo: root=%s ticks=%d topology=%s", rootPath, ticks, cfg.InitialTopology)

	if err := run(cfg); err != nil {
		logging.Fatalf("apex: %v", err)
	}
}

func run(cfg config.Config) error {
	var store *persistence.Store
	if cfg.DBDriver != "" {
		s, err := persistence.Open(persistence.Driver(cfg.DBDriver), cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("open persistence store: %w", err)
		}
		store = s
		defer store.Close()
	}

	recipients := []runtime.AgentID{
		runtime.RolePlanner, runtime.RoleCoder, runtime.RoleRunner,
		runtime.RoleCritic, runtime.RoleSummarizer,
	}

	router := runtime.NewRouter(recipients,
		runtime.WithQueueCap(cfg.QueueCapPerAgent),
		runtime.WithMessageTTL(cfg.MessageTTL),
		runtime.WithMaxAttempts(cfg.MaxAttempts),
		runtime.WithTopologyGuard(runtime.NewTopologyGuard(cfg.FanoutLimit)),
	)
	switchEng := runtime.NewSwitchEngine(router, cfg.InitialTopology, cfg.QuiesceDeadline, nil)
	coord := runtime.NewCoordinator(switchEng, cfg.InitialTopology,
		runtime.WithDwellMinSteps(cfg.DwellMinSteps),
		runtime.WithCooldownSteps(cfg.CooldownSteps),
	)

	featureSrc := bandit.NewFeatureSource(cfg.DwellMinSteps, bandit.DefaultFeatureWindow)
	featureSrc.SetBudget(0, cfg.TokenBudget)
	bs := bandit.New(cfg.BanditSeed)
	ctl := controller.New(bs, featureSrc, coord, switchEng, cfg.TokenBudget)

	llm := &agentio.FakeLLM{Latency: 5 * time.Millisecond}
	agents := map[runtime.AgentID]agentio.Agent{
		runtime.RolePlanner:    agentio.NewScripted(runtime.RolePlanner, string(runtime.RolePlanner), llm),
		runtime.RoleCoder:      agentio.NewScripted(runtime.RoleCoder, string(runtime.RoleCoder), llm),
		runtime.RoleRunner:     agentio.NewScripted(runtime.RoleRunner, string(runtime.RoleRunner), llm),
		runtime.RoleCritic:     agentio.NewScripted(runtime.RoleCritic, string(runtime.RoleCritic), llm),
		runtime.RoleSummarizer: agentio.NewScripted(runtime.RoleSummarizer, string(runtime.RoleSummarizer), llm),
	}

	ctx := context.Background()
	episodeID := "demo-episode-1"

	seed, err := runtime.NewMessage(episodeID, runtime.SystemSender, runtime.RolePlanner,
		map[string]any{"task": "write a function that reverses a string"}, cfg.MessageTTL, "", cfg.PayloadMaxBytes)
	if err != nil {
		return fmt.Errorf("seed message: %w", err)
	}
	for _, outcome := range router.Route(seed) {
		if outcome.Err != nil {
			return fmt.Errorf("seed route: %w", outcome.Err)
		}
	}

	prevState := bandit.EpisodeState{Phase: "planning", TestPassRate: 0, TokensUsed: 0}
	tokensUsed := 0
	totalReward := 0.0

	for step := 0; step < ticks; step++ {
		record := ctl.Tick()
		coord.Step()
		logging.Debugf("tick %d: topology=%s action=%s epsilon=%.3f committed=%v",
			record.Step, record.Topology, record.Action, record.Epsilon, record.SwitchCommitted)

		for agentID, agent := range agents {
			msg, err := router.Dequeue(agentID)
			if err != nil || msg == nil {
				continue
			}
			featureSrc.ObserveMsg(string(agentID))

			reply, err := agent.Process(ctx, msg)
			if err != nil {
				logging.Warnf("agent %s: %v", agentID, err)
				continue
			}
			if reply == nil {
				continue
			}
			if tu, ok := reply["tokens_used"].(int); ok {
				tokensUsed += tu
			}

			respMsg, err := runtime.NewMessage(msg.EpisodeID, agentID, nextRecipient(agentID), reply, cfg.MessageTTL, "", cfg.PayloadMaxBytes)
			if err != nil {
				logging.Warnf("agent %s: build reply: %v", agentID, err)
				continue
			}
			for _, outcome := range router.Route(respMsg) {
				if outcome.Err != nil {
					logging.Debugf("agent %s: route reply: %v", agentID, outcome.Err)
				}
			}
		}

		currState := bandit.EpisodeState{
			Phase:           phaseForStep(step),
			TestPassRate:    passRateForStep(step),
			TokensUsed:      tokensUsed,
			SwitchCommitted: record.SwitchCommitted,
		}
		totalReward += ctl.UpdateReward(prevState, currState)
		prevState = currState
	}

	if store != nil {
		payload, err := json.Marshal(ctl.Stats().Bandit)
		if err != nil {
			return fmt.Errorf("marshal bandit snapshot: %w", err)
		}
		if err := store.SaveBanditSnapshot(episodeID, payload); err != nil {
			return fmt.Errorf("save bandit snapshot: %w", err)
		}
		if err := store.RecordEpisodeOutcome(persistence.EpisodeOutcome{
			EpisodeID:   episodeID,
			FinishedAt:  time.Now(),
			Success:     prevState.Phase == "done",
			TotalReward: totalReward,
			SwitchCount: len(coord.Stats().SwitchHistory),
		}); err != nil {
			return fmt.Errorf("record episode outcome: %w", err)
		}
	}

	if err := ctl.FlushJSONL(cfg.DecisionLogPath, cfg.RewardLogPath); err != nil {
		return fmt.Errorf("flush logs: %w", err)
	}

	stats := ctl.Stats()
	logging.Infof("done: steps=%d decisions=%d rewards=%d total_bandit_decisions=%d",
		stats.Steps, stats.Decisions, stats.Rewards, stats.Bandit.TotalDecisions)

	return nil
}

// nextRecipient routes the planner's reply to the coder and every other
// agent's reply back to the planner, which acts as the demo's hub/manager
// role; TopologyGuard still enforces whether that hop is legal under the
// active topology.
func nextRecipient(from runtime.AgentID) runtime.AgentID {
	if from == runtime.RolePlanner {
		return runtime.RoleCoder
	}
	return runtime.RolePlanner
}

func phaseForStep(step int) string {
	switch {
	case step < 3:
		return "planning"
	case step < 8:
		return "coding"
	case step < 12:
		return "testing"
	case step < 16:
		return "critique"
	default:
		return "done"
	}
}

func passRateForStep(step int) float64 {
	if step < 8 {
		return 0
	}
	rate := float64(step-8) / 10.0
	if rate > 1.0 {
		rate = 1.0
	}
	return rate
}
