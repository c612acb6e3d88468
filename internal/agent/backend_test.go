package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveMockBackend(t *testing.T) {
	b, err := resolve("mock")
	require.NoError(t, err)
	require.Equal(t, "mock", b.Name())
	require.Equal(t, "sh", b.command)
}

func TestResolveUnknownBackend(t *testing.T) {
	_, err := resolve("not-a-real-backend")
	require.Error(t, err)
}

func TestResolveDefaultsToClaude(t *testing.T) {
	b, err := resolve("")
	require.NoError(t, err)
	require.Equal(t, "claude", b.Name())
}

func TestParseOutputSplitsEventLogAndSummary(t *testing.T) {
	raw := "line one\nline two\n===SUMMARY===\nall done\n{\"tokens\":100,\"cost_usd\":0.25}\n"
	res := parseOutput(raw)
	require.Contains(t, res.EventLog, "line one")
	require.Equal(t, "all done", res.Summary)
	require.Equal(t, int64(100), res.TokensUsed)
	require.InDelta(t, 0.25, res.CostUSD, 0.0001)
}

func TestParseOutputWithoutMarkerKeepsEverythingAsEventLog(t *testing.T) {
	raw := "no marker here\n"
	res := parseOutput(raw)
	require.Equal(t, raw, res.EventLog)
	require.Empty(t, res.Summary)
	require.Zero(t, res.TokensUsed)
}

func TestExtractUsageWithoutTrailingJSON(t *testing.T) {
	summary, tokens, cost := extractUsage("just a plain summary")
	require.Equal(t, "just a plain summary", summary)
	require.Zero(t, tokens)
	require.Zero(t, cost)
}

func TestValidatePromptRejectsEmptyAndNullByte(t *testing.T) {
	require.Error(t, validatePrompt(""))
	require.Error(t, validatePrompt("has\x00null"))
	require.NoError(t, validatePrompt("a normal prompt"))
}

func TestMockBackendRunProducesUsableResult(t *testing.T) {
	b, err := resolve("mock")
	require.NoError(t, err)

	res, err := b.Run(context.Background(), "do the step", 5*time.Second)
	require.NoError(t, err)
	require.False(t, res.TimedOut)
	require.Equal(t, "mock summary: step handled", res.Summary)
	require.Equal(t, int64(42), res.TokensUsed)
	require.InDelta(t, 0.01, res.CostUSD, 0.0001)
}

func TestLimitedBufferCapsWrites(t *testing.T) {
	w := &limitedBuffer{max: 4}
	n, err := w.Write([]byte("abcdefgh"))
	require.NoError(t, err)
	require.Equal(t, 8, n) // reports the original length even though it truncated
	require.Equal(t, "abcd", w.buf.String())
}
