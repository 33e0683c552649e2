// Package config provides APEX's layered configuration loader: a TOML
// file (lowest precedence), APEX__-prefixed environment variables, then
// CLI flags (highest precedence) — the same three-layer precedence order
// the teacher repo uses for its own SLUG__ configuration.
package config

import (
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"apex/internal/runtime"
)

// Config is APEX's resolved runtime configuration.
type Config struct {
	InitialTopology  runtime.Topology
	QueueCapPerAgent int
	MessageTTL       time.Duration
	MaxAttempts      int
	PayloadMaxBytes  int
	QuiesceDeadline  time.Duration
	DwellMinSteps    int
	CooldownSteps    int
	FanoutLimit      int
	BanditSeed       int64
	TokenBudget      int
	DecisionLogPath  string
	RewardLogPath    string
	DBDriver         string
	DBDSN            string
	LogLevel         string
}

// Store holds the flattened, merged key/value configuration assembled
// from all three layers, keyed by dotted path (e.g. "runtime.queue-cap").
type Store struct {
	Values map[string]string
}

// searchPaths are the TOML files consulted, in order, lowest precedence
// first (a value from a later path overwrites an earlier one).
func searchPaths(rootPath string) []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".apex", "apex.toml"))
	}
	if rootPath != "" {
		paths = append(paths, filepath.Join(rootPath, "apex.toml"))
	}
	return paths
}

// NewStore builds a layered Store: TOML file(s) under rootPath, then
// APEX__ environment variables, then argv-derived CLI flags.
func NewStore(rootPath string, argv []string) *Store {
	s := &Store{Values: make(map[string]string)}

	for _, path := range searchPaths(rootPath) {
		var data map[string]interface{}
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &data); err == nil {
				mergeMaps(s.Values, data, "")
			}
		}
	}

	const envPrefix = "APEX__"
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, envPrefix) {
			continue
		}
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key := strings.TrimPrefix(pair[0], envPrefix)
		key = strings.ToLower(strings.ReplaceAll(key, "__", "."))
		s.Values[key] = pair[1]
	}

	fs := flag.NewFlagSet("apex", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	flagVals := map[string]*string{}
	for _, name := range []string{
		"runtime.initial-topology", "runtime.queue-cap", "runtime.message-ttl",
		"runtime.max-attempts", "runtime.payload-max-bytes", "runtime.quiesce-deadline",
		"coordinator.dwell-min-steps", "coordinator.cooldown-steps", "runtime.fanout-limit",
		"bandit.seed", "controller.token-budget", "controller.decision-log",
		"controller.reward-log", "db.driver", "db.dsn", "log.level",
	} {
		flagVals[name] = fs.String(name, "", "")
	}
	_ = fs.Parse(argv)
	fs.Visit(func(f *flag.Flag) {
		s.Values[f.Name] = f.Value.String()
	})

	return s
}

func mergeMaps(dest map[string]string, src map[string]interface{}, prefix string) {
	for k, v := range src {
		fullKey := k
		if prefix != "" {
			fullKey = prefix + "." + k
		}
		if subMap, ok := v.(map[string]interface{}); ok {
			mergeMaps(dest, subMap, fullKey)
			continue
		}
		dest[fullKey] = toStringValue(v)
	}
}

func toStringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func (s *Store) get(key, fallback string) string {
	if v, ok := s.Values[key]; ok && v != "" {
		return v
	}
	return fallback
}

func (s *Store) getInt(key string, fallback int) int {
	if v, ok := s.Values[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (s *Store) getInt64(key string, fallback int64) int64 {
	if v, ok := s.Values[key]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func (s *Store) getDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := s.Values[key]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// Resolve produces a Config from the layered Store, applying APEX's
// defaults wherever a layer left a key unset.
func (s *Store) Resolve() Config {
	return Config{
		InitialTopology:  runtime.Topology(s.get("runtime.initial-topology", "star")),
		QueueCapPerAgent: s.getInt("runtime.queue-cap", runtime.DefaultQueueCapPerAgent),
		MessageTTL:       s.getDuration("runtime.message-ttl", runtime.DefaultMessageTTL),
		MaxAttempts:      s.getInt("runtime.max-attempts", runtime.DefaultMaxAttempts),
		PayloadMaxBytes:  s.getInt("runtime.payload-max-bytes", 512*1024),
		QuiesceDeadline:  s.getDuration("runtime.quiesce-deadline", runtime.DefaultQuiesceDeadline),
		DwellMinSteps:    s.getInt("coordinator.dwell-min-steps", runtime.DefaultDwellMinSteps),
		CooldownSteps:    s.getInt("coordinator.cooldown-steps", runtime.DefaultCooldownSteps),
		FanoutLimit:      s.getInt("runtime.fanout-limit", 2),
		BanditSeed:       s.getInt64("bandit.seed", 1),
		TokenBudget:      s.getInt("controller.token-budget", 10_000),
		DecisionLogPath:  s.get("controller.decision-log", "apex_decisions.jsonl"),
		RewardLogPath:    s.get("controller.reward-log", "apex_rewards.jsonl"),
		DBDriver:         s.get("db.driver", ""),
		DBDSN:            s.get("db.dsn", ""),
		LogLevel:         s.get("log.level", "info"),
	}
}
