// Package agentio defines the external-collaborator interfaces APEX
// agents depend on (an LLM, a sandboxed filesystem, a test runner), a
// FakeLLM stand-in for the LLM, and a deterministic Scripted Agent that
// runs without any real external call — used by cmd/apex's demo harness
// and by tests.
package agentio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"apex/internal/runtime"
	"apex/internal/util/future"
)

// LLMResponse is one completion result.
type LLMResponse struct {
	Content    string
	TokensUsed int
	Err        string
}

// LLM is the narrow interface APEX agents use to get a completion. A real
// implementation would wrap a hosted model's API; this package only ever
// provides FakeLLM, a scripted stand-in (spec.md §6: LLM integration is a
// named external collaborator, not something this repo implements).
type LLM interface {
	Complete(ctx context.Context, prompt, systemPrompt string) (*future.Future[LLMResponse], error)
}

// Filesystem is the sandboxed file write/read surface a coder agent uses.
type Filesystem interface {
	Write(ctx context.Context, path, content string) error
	Read(ctx context.Context, path string) (string, error)
}

// SyntaxResult is the outcome of a TestRunner.CheckSyntax call.
type SyntaxResult struct {
	Valid bool
	Error string
}

// RunResult is the outcome of a TestRunner.RunPython call.
type RunResult struct {
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
}

// TestRunner is the sandboxed code-execution surface a runner agent uses.
type TestRunner interface {
	CheckSyntax(ctx context.Context, code string) (SyntaxResult, error)
	RunPython(ctx context.Context, code string) (RunResult, error)
}

// Agent processes one inbound Message and returns a response payload, or
// nil if this message warrants no reply.
type Agent interface {
	Role() string
	Process(ctx context.Context, msg *runtime.Message) (map[string]any, error)
}

// FakeLLM answers every Complete call with a canned, role-flavored
// response via a background Future, so callers exercise the same
// await/timeout path a real async client would need.
type FakeLLM struct {
	Latency time.Duration
}

// Complete returns a Future that resolves after Latency with a templated
// response derived from the prompt's first line.
func (f *FakeLLM) Complete(ctx context.Context, prompt, systemPrompt string) (*future.Future[LLMResponse], error) {
	latency := f.Latency
	fut := future.New(func() (LLMResponse, error) {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return LLMResponse{}, ctx.Err()
		}
		firstLine := prompt
		if idx := strings.IndexByte(prompt, '\n'); idx >= 0 {
			firstLine = prompt[:idx]
		}
		return LLMResponse{
			Content:    fmt.Sprintf("[scripted response to %q]", firstLine),
			TokensUsed: len(prompt) / 4,
		}, nil
	})
	return fut, nil
}

// Scripted is a deterministic Agent whose reply depends only on its role
// and the inbound payload, suitable for demos and tests where no
// real LLM, filesystem, or test runner is available.
type Scripted struct {
	AgentID runtime.AgentID
	role    string
	llm     LLM
}

// NewScripted constructs a Scripted agent for role, backed by llm (a
// *FakeLLM in the demo harness).
func NewScripted(agentID runtime.AgentID, role string, llm LLM) *Scripted {
	return &Scripted{AgentID: agentID, role: role, llm: llm}
}

func (s *Scripted) Role() string { return s.role }

// Process dispatches to a role-specific canned reply. Planner, coder and
// critic replies are produced by awaiting the LLM's Future with a bounded
// timeout, matching the reference's response_timeout semantics
// (original_source's AgentConfig.response_timeout); runner and summarizer
// replies are fixed payloads and never call the LLM.
func (s *Scripted) Process(ctx context.Context, msg *runtime.Message) (map[string]any, error) {
	switch s.role {
	case string(runtime.RolePlanner):
		return s.reply(ctx, "Given this task, create a step-by-step plan.", map[string]any{
			"type": "plan", "task": msg.Payload["task"],
		})
	case string(runtime.RoleCoder):
		return s.reply(ctx, "Implement the plan as code.", map[string]any{
			"type": "code", "plan": msg.Payload["plan"],
		})
	case string(runtime.RoleRunner):
		return map[string]any{
			"type": "test_result", "success": true, "stdout": "", "stderr": "", "exit_code": 0,
		}, nil
	case string(runtime.RoleCritic):
		return s.reply(ctx, "Critique the test results.", map[string]any{
			"type": "critique", "needs_revision": false,
		})
	case string(runtime.RoleSummarizer):
		return map[string]any{"type": "summary", "episode_id": msg.EpisodeID}, nil
	default:
		return nil, fmt.Errorf("apex/agentio: unknown role %q", s.role)
	}
}

func (s *Scripted) reply(ctx context.Context, prompt string, extra map[string]any) (map[string]any, error) {
	fut, err := s.llm.Complete(ctx, prompt, fmt.Sprintf("You are the %s agent.", s.role))
	if err != nil {
		return nil, err
	}
	resp, err, ok := fut.AwaitTimeout(5 * time.Second)
	if !ok {
		return nil, fmt.Errorf("apex/agentio: %s: llm response timeout", s.role)
	}
	if err != nil {
		return map[string]any{"error": err.Error()}, nil
	}
	out := map[string]any{"content": resp.Content, "tokens_used": resp.TokensUsed}
	for k, v := range extra {
		out[k] = v
	}
	return out, nil
}
