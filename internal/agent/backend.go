// Package agent dispatches a composed step prompt to the external
// coding-agent backend and parses its response. The backend itself is an
// opaque subprocess (spec §1): it consumes a prompt and emits an event
// stream plus a final structured summary, by convention in its last
// output section. This core never inspects how the agent produces that
// output — only the two conventions below.
package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const disableExternalAgentEnv = "STORYFORGE_DISABLE_EXTERNAL_AGENT"

// mockAgentScript is the fixed shell script the "mock" backend runs.
const mockAgentScript = `echo "mock agent handling step"
echo "===SUMMARY==="
echo "mock summary: step handled"
echo '{"tokens":42,"cost_usd":0.01}'`

// summaryMarker is the convention an agent backend uses to delimit its
// final structured summary from the rest of its event stream output.
const summaryMarker = "===SUMMARY==="

// Backend dispatches prompts to a named external coding-agent CLI.
type Backend struct {
	name    string
	command string
	args    func(prompt string) []string
}

// New resolves name ("claude", "opencode", "mock", or empty for the default) to a
// concrete Backend and verifies the CLI binary is on PATH.
func New(name string) (*Backend, error) {
	if strings.TrimSpace(os.Getenv(disableExternalAgentEnv)) != "" {
		return nil, fmt.Errorf("external agent backend execution disabled by %s", disableExternalAgentEnv)
	}
	b, err := resolve(name)
	if err != nil {
		return nil, err
	}
	if _, err := exec.LookPath(b.command); err != nil {
		return nil, fmt.Errorf("agent backend %q not found in PATH: %w", b.command, err)
	}
	return b, nil
}

func resolve(name string) (*Backend, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "mock"):
		// A fixed, argument-blind script used by the demo runner and
		// integration tests, so they can exercise the real dispatch path
		// without depending on an actual agent CLI being installed.
		return &Backend{
			name:    "mock",
			command: "sh",
			args: func(string) []string {
				return []string{"-c", mockAgentScript}
			},
		}, nil
	case strings.HasPrefix(lower, "opencode"):
		return &Backend{
			name:    "opencode",
			command: "opencode",
			args:    func(p string) []string { return []string{"run", p} },
		}, nil
	case strings.HasPrefix(lower, "claude"), lower == "":
		return &Backend{
			name:    "claude",
			command: "claude",
			args:    func(p string) []string { return []string{"-p", p, "--output-format", "text"} },
		}, nil
	default:
		return nil, fmt.Errorf("unknown agent backend %q (supported: claude, opencode, mock)", name)
	}
}

// Name returns the resolved backend identity ("claude", "opencode", or "mock").
func (b *Backend) Name() string { return b.name }

// Result is what the core extracts from one step's agent invocation.
type Result struct {
	Summary    string
	EventLog   string
	ExitCode   int
	TimedOut   bool
	TokensUsed int64
	CostUSD    float64
}

// maxEventLogBytes bounds how much of a runaway or buggy agent's output the
// core will hold in memory before discarding the overflow.
const maxEventLogBytes = 8 << 20

// Run launches the backend with prompt, bounded by timeout, and parses its
// output into a Result. A timeout is reported via Result.TimedOut = true
// and a nil error; a non-zero, non-timeout exit is reported as an error.
func (b *Backend) Run(ctx context.Context, prompt string, timeout time.Duration) (*Result, error) {
	if err := validatePrompt(prompt); err != nil {
		return nil, fmt.Errorf("invalid prompt: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.command, b.args(prompt)...) //nolint:gosec // G204: command resolved from a fixed allow-list in resolve()
	cmd.Env = os.Environ()

	var out limitedBuffer
	out.max = maxEventLogBytes
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)

	res := parseOutput(out.buf.String())
	res.TimedOut = timedOut
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	}

	if timedOut {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("agent backend %s failed: %w", b.command, err)
	}
	return res, nil
}

// validatePrompt rejects unsafe or oversized prompts before exec. Go's
// exec.Command avoids shell injection entirely (no shell is involved), but
// some agent CLIs are themselves shell scripts, so this is defense in depth.
func validatePrompt(p string) error {
	if len(p) == 0 {
		return errors.New("empty prompt")
	}
	if strings.ContainsRune(p, 0) {
		return errors.New("prompt contains null byte")
	}
	return nil
}

// parseOutput splits raw agent output into the event log (everything
// before the summary marker) and the structured summary (everything
// after it, trimmed), and pulls a trailing {"tokens":N,"cost_usd":F} line
// out of the summary if the backend emitted one.
func parseOutput(raw string) *Result {
	eventLog, rest := raw, ""
	if idx := strings.LastIndex(raw, summaryMarker); idx >= 0 {
		eventLog = raw[:idx]
		rest = strings.TrimSpace(raw[idx+len(summaryMarker):])
	}

	summary, tokens, cost := extractUsage(rest)
	return &Result{
		EventLog:   eventLog,
		Summary:    summary,
		TokensUsed: tokens,
		CostUSD:    cost,
	}
}

type usageLine struct {
	Tokens  int64   `json:"tokens"`
	CostUSD float64 `json:"cost_usd"`
}

func extractUsage(text string) (summary string, tokens int64, cost float64) {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 0 {
		return text, 0, 0
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	var u usageLine
	if strings.HasPrefix(last, "{") && json.Unmarshal([]byte(last), &u) == nil {
		return strings.TrimSpace(strings.Join(lines[:len(lines)-1], "\n")), u.Tokens, u.CostUSD
	}
	return text, 0, 0
}

// limitedBuffer caps writes at max bytes, discarding overflow while still
// reporting the original length so callers (e.g. io.Copy) never see a short
// write. Protects against OOM from a runaway or malicious agent subprocess.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (w *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	remaining := w.max - w.buf.Len()
	if remaining <= 0 {
		return n, nil
	}
	if len(p) > remaining {
		p = p[:remaining]
	}
	w.buf.Write(p)
	return n, nil
}

// SaveEventLog writes the raw event stream captured in res to path, creating
// parent directories as needed, per spec §6 ("each step's full event stream
// is captured at a well-known path").
func SaveEventLog(path string, res *Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create log file %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(res.EventLog); err != nil {
		return fmt.Errorf("write log file %s: %w", path, err)
	}
	return w.Flush()
}
