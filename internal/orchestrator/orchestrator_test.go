package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammad-safakhou/yurei/internal/domain"
	"github.com/mohammad-safakhou/yurei/internal/llm"
	"github.com/mohammad-safakhou/yurei/internal/llm/llmtest"
	"github.com/mohammad-safakhou/yurei/internal/repair"
	"github.com/mohammad-safakhou/yurei/internal/sources/exa"
	"github.com/mohammad-safakhou/yurei/internal/sources/hackernews"
	"github.com/mohammad-safakhou/yurei/internal/sources/youtube"
	"github.com/mohammad-safakhou/yurei/internal/stream"
	"github.com/mohammad-safakhou/yurei/internal/telemetry"
	"github.com/mohammad-safakhou/yurei/internal/tools"
)

type fakeVideos struct {
	mu    sync.Mutex
	hits  map[string][]youtube.Hit
	delay map[string]time.Duration
	err   error
	panic string
}

func (f *fakeVideos) Search(ctx context.Context, query string, _ int64) ([]youtube.Hit, error) {
	f.mu.Lock()
	d := f.delay[query]
	hits := f.hits[query]
	f.mu.Unlock()
	if f.panic != "" && query == f.panic {
		panic("index out of range")
	}
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return hits, nil
}

func (f *fakeVideos) Video(_ context.Context, id string) (*youtube.Video, error) {
	return &youtube.Video{ID: id, Title: "Video " + id, ChannelTitle: "Chan"}, nil
}

func (f *fakeVideos) CaptionLanguage(context.Context, string) (string, error) { return "", nil }

type noExa struct{}

func (noExa) Search(context.Context, exa.SearchRequest) ([]exa.Result, error) { return nil, nil }

type noHN struct{}

func (noHN) Item(context.Context, string) (*hackernews.Item, error) {
	return nil, hackernews.ErrNotFound
}

type harness struct {
	llm     *llmtest.Client
	videos  *fakeVideos
	orch    *Orchestrator
	sink    *stream.Recorder
	metrics *telemetry.Metrics
}

func newHarness(t *testing.T, timeout time.Duration, turns ...llmtest.Turn) *harness {
	t.Helper()
	client := llmtest.New(turns...)
	videos := &fakeVideos{hits: map[string][]youtube.Hit{}, delay: map[string]time.Duration{}}
	domains, err := domain.Builtin()
	require.NoError(t, err)
	reg, err := tools.Builtin(tools.SearchDeps{
		Exa:            noExa{},
		YouTube:        videos,
		HackerNews:     noHN{},
		YouTubeResults: 10,
	}, client)
	require.NoError(t, err)
	metrics := telemetry.New()
	orch := New(Options{
		LLM:      client,
		Domains:  domains,
		Tools:    reg,
		Repairer: repair.New(client),
		Metrics:  metrics,
		Timeout:  timeout,
	})
	orch.now = func() time.Time { return time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC) }
	return &harness{llm: client, videos: videos, orch: orch, sink: &stream.Recorder{}, metrics: metrics}
}

func userRequest(domainID, text string) Request {
	return Request{ID: "req-1", Domain: domainID, Messages: []llm.Message{{Role: llm.RoleUser, Content: text}}}
}

func hits(ids ...string) []youtube.Hit {
	out := make([]youtube.Hit, 0, len(ids))
	for _, id := range ids {
		out = append(out, youtube.Hit{VideoID: id, Title: "hit " + id})
	}
	return out
}

// frames renders recorded events the way the caller sees them.
func frames(t *testing.T, rec *stream.Recorder) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, e := range rec.Events() {
		line, err := stream.Encode(e)
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func types(fs []map[string]any) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f["type"].(string))
	}
	return out
}

// assertPairing checks that every tool-call is answered by exactly one
// tool-result before the first text frame.
func assertPairing(t *testing.T, fs []map[string]any) {
	t.Helper()
	open := map[string]int{}
	for _, f := range fs {
		switch f["type"] {
		case "tool-call":
			open[f["callId"].(string)]++
		case "tool-result":
			id := f["callId"].(string)
			if id == FallbackCallID {
				continue
			}
			require.Equal(t, 1, open[id], "result for %s without a pending call", id)
			open[id]--
		case "text":
			for id, n := range open {
				require.Zero(t, n, "text emitted before result for %s", id)
			}
		}
	}
}

func joinedText(fs []map[string]any) string {
	var b strings.Builder
	for _, f := range fs {
		if f["type"] == "text" {
			b.WriteString(f["text"].(string))
		}
	}
	return b.String()
}

func TestScenarioVideoSearchAnswered(t *testing.T) {
	h := newHarness(t, time.Second,
		llmtest.Turn{Chunks: llmtest.Concat(
			llmtest.Text("Let me search. "),
			llmtest.ToolCall(0, "c1", "youtube_search", `{"query":"rust async"}`),
		)},
		llmtest.Turn{Chunks: llmtest.Text("Rust async ", "is built on futures.")},
	)
	h.videos.hits["rust async"] = hits("a", "b", "c")

	out := h.orch.Run(context.Background(), userRequest("youtube", "latest on rust async"), h.sink)
	require.Equal(t, StateDone, out.State)
	assert.False(t, out.Degraded)

	fs := frames(t, h.sink)
	require.GreaterOrEqual(t, len(fs), 3)
	assert.Equal(t, []string{"tool-call", "tool-result"}, types(fs)[:2])
	for _, typ := range types(fs)[2:] {
		assert.Equal(t, "text", typ)
	}
	assertPairing(t, fs)

	assert.Equal(t, "youtube_search", fs[0]["toolName"])
	assert.Equal(t, map[string]any{"query": "rust async"}, fs[0]["args"])
	result := fs[1]["result"].(map[string]any)
	assert.Len(t, result["results"], 3)
	assert.NotContains(t, result, "error")
	assert.Equal(t, "Rust async is built on futures.", joinedText(fs))
	assert.NotContains(t, joinedText(fs), "Let me search", "phase-1 text is dropped")

	reqs := h.llm.Requests()
	require.Len(t, reqs, 2)
	phase1, phase2 := reqs[0], reqs[1]
	assert.Equal(t, llm.ToolChoiceRequired, phase1.ToolChoice)
	require.NotNil(t, phase1.Temperature)
	assert.Zero(t, *phase1.Temperature)
	var offered []string
	for _, tool := range phase1.Tools {
		offered = append(offered, tool.Name)
	}
	assert.Equal(t, []string{"youtube_search", "text_translate"}, offered)
	assert.Contains(t, phase1.System, "Wed, Jan 15, 2025")

	assert.Empty(t, phase2.Tools)
	require.Len(t, phase2.Messages, 3)
	assert.Equal(t, llm.RoleAssistant, phase2.Messages[1].Role)
	assert.Equal(t, "c1", phase2.Messages[1].ToolCalls[0].ID)
	assert.Equal(t, llm.RoleTool, phase2.Messages[2].Role)
	assert.Equal(t, "c1", phase2.Messages[2].ToolCallID)
	assert.Contains(t, phase2.Messages[2].Content, "Video a")
}

func TestScenarioEmptyResultsStillAnswer(t *testing.T) {
	h := newHarness(t, time.Second,
		llmtest.Turn{Chunks: llmtest.ToolCall(0, "c1", "youtube_search", `{"query":"rust async"}`)},
		llmtest.Turn{Chunks: llmtest.Text("I found very little on that. ")},
	)

	out := h.orch.Run(context.Background(), userRequest("youtube", "latest on rust async"), h.sink)
	require.Equal(t, StateDone, out.State)
	assert.False(t, out.Degraded, "an empty list is a successful search")

	fs := frames(t, h.sink)
	assert.Equal(t, []string{"tool-call", "tool-result", "text", "text", "text", "text", "text", "text"}, types(fs))
	assert.Equal(t, map[string]any{"results": []any{}}, fs[1]["result"])
}

func TestScenarioUpstreamFailureDegrades(t *testing.T) {
	h := newHarness(t, time.Second,
		llmtest.Turn{Chunks: llmtest.ToolCall(0, "c1", "youtube_search", `{"query":"rust async"}`)},
		llmtest.Turn{Chunks: llmtest.Text("Search is unavailable right now.")},
	)
	h.videos.err = errors.New("dial tcp: connection reset by peer")

	out := h.orch.Run(context.Background(), userRequest("youtube", "latest on rust async"), h.sink)
	require.Equal(t, StateDone, out.State)
	assert.True(t, out.Degraded)

	fs := frames(t, h.sink)
	require.Equal(t, "tool-result", fs[1]["type"])
	result := fs[1]["result"].(map[string]any)
	assert.Equal(t, []any{}, result["results"])
	assert.NotEmpty(t, result["error"])
	assert.Equal(t, "Search is unavailable right now.", joinedText(fs))
	assertPairing(t, fs)
}

func TestPanickingToolBecomesToolError(t *testing.T) {
	h := newHarness(t, time.Second,
		llmtest.Turn{Chunks: llmtest.Concat(
			llmtest.ToolCall(0, "c1", "youtube_search", `{"query":"explode"}`),
			llmtest.ToolCall(1, "c2", "youtube_search", `{"query":"fine"}`),
		)},
		llmtest.Turn{Chunks: llmtest.Text("One search worked.")},
	)
	h.videos.panic = "explode"
	h.videos.hits["fine"] = hits("a")

	out := h.orch.Run(context.Background(), userRequest("youtube", "two searches"), h.sink)
	require.Equal(t, StateDone, out.State)
	assert.True(t, out.Degraded)

	fs := frames(t, h.sink)
	require.Equal(t, []string{"tool-call", "tool-call", "tool-result", "tool-result", "text"}, types(fs))
	first := fs[2]["result"].(map[string]any)
	assert.Equal(t, "c1", fs[2]["callId"])
	assert.Contains(t, first["error"], "panicked")
	second := fs[3]["result"].(map[string]any)
	assert.Len(t, second["results"], 1)
	assertPairing(t, fs)
}

func TestScenarioPhaseOneTimeoutFallsBack(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond, llmtest.Turn{Block: true})

	out := h.orch.Run(context.Background(), userRequest("youtube", "latest on rust async"), h.sink)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, StateAwaitingToolSelection, out.FailedIn)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)

	fs := frames(t, h.sink)
	require.Len(t, fs, 2)
	assert.Equal(t, map[string]any{
		"type":     "tool-result",
		"callId":   FallbackCallID,
		"toolName": "youtube_search",
		"args":     map[string]any{"query": "latest on rust async"},
		"result":   []any{},
	}, fs[0])
	assert.Equal(t, map[string]any{"type": "text", "text": ApologyText}, fs[1])
}

func TestSlowToolPastDeadlineFallsBack(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond,
		llmtest.Turn{Chunks: llmtest.ToolCall(0, "c1", "youtube_search", `{"query":"slow"}`)},
		llmtest.Turn{Block: true},
	)
	h.videos.delay["slow"] = 500 * time.Millisecond

	started := time.Now()
	out := h.orch.Run(context.Background(), userRequest("youtube", "slow"), h.sink)
	assert.Less(t, time.Since(started), 250*time.Millisecond, "run must not outlive the deadline")
	assert.Equal(t, StateFailed, out.State)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)

	fs := frames(t, h.sink)
	require.Equal(t, []string{"tool-call", "tool-result", "tool-result", "text"}, types(fs))
	assert.Equal(t, "c1", fs[1]["callId"])
	result := fs[1]["result"].(map[string]any)
	assert.NotEmpty(t, result["error"])
	assert.Equal(t, []any{}, result["results"])
	assert.Equal(t, FallbackCallID, fs[2]["callId"])
	assert.Equal(t, ApologyText, fs[3]["text"])
}

func TestPhaseOneProviderErrorFallsBackWithDefaultDomain(t *testing.T) {
	h := newHarness(t, time.Second, llmtest.Turn{Err: &llm.ProviderError{StatusCode: 503, Body: "down"}})

	out := h.orch.Run(context.Background(), userRequest("no-such-domain", "what is new in sqlite"), h.sink)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, "hackernews", out.Domain)

	fs := frames(t, h.sink)
	require.Len(t, fs, 2)
	assert.Equal(t, "hackernews_search", fs[0]["toolName"])
}

func TestPhaseTwoFailureFallsBackAfterResults(t *testing.T) {
	h := newHarness(t, time.Second,
		llmtest.Turn{Chunks: llmtest.ToolCall(0, "c1", "youtube_search", `{"query":"q"}`)},
		llmtest.Turn{Chunks: llmtest.Text("Partial "), RecvErr: errors.New("stream reset")},
	)
	h.videos.hits["q"] = hits("a")

	out := h.orch.Run(context.Background(), userRequest("youtube", "q"), h.sink)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, StateStreaming, out.FailedIn)

	fs := frames(t, h.sink)
	assert.Equal(t, []string{"tool-call", "tool-result", "text", "tool-result", "text"}, types(fs))
	assert.Equal(t, "Partial ", fs[2]["text"])
	assert.Equal(t, FallbackCallID, fs[3]["callId"])
	assert.Equal(t, ApologyText, fs[4]["text"])
}

func TestUnknownToolIsRejectedWithoutRepair(t *testing.T) {
	h := newHarness(t, time.Second,
		llmtest.Turn{Chunks: llmtest.Concat(
			llmtest.ToolCall(0, "c1", "reddit_search", `{"query":"q"}`),
			llmtest.ToolCall(1, "c2", "youtube_search", `{"query":"q"}`),
		)},
		llmtest.Turn{Chunks: llmtest.Text("answer")},
	)
	h.videos.hits["q"] = hits("a")

	out := h.orch.Run(context.Background(), userRequest("youtube", "q"), h.sink)
	require.Equal(t, StateDone, out.State)
	assert.True(t, out.Degraded)

	fs := frames(t, h.sink)
	assert.Equal(t, []string{"error", "tool-call", "tool-result", "text"}, types(fs))
	assert.Equal(t, "c1", fs[0]["callId"])
	assert.Contains(t, fs[0]["error"], "unknown tool")
	assert.Empty(t, h.llm.ObjectRequests(), "unknown tools never reach repair")

	phase2 := h.llm.Requests()[1]
	require.Len(t, phase2.Messages, 3)
	require.Len(t, phase2.Messages[1].ToolCalls, 1)
	assert.Equal(t, "c2", phase2.Messages[1].ToolCalls[0].ID)
}

func TestInvalidArgumentsAreRepairedOnce(t *testing.T) {
	h := newHarness(t, time.Second,
		llmtest.Turn{Chunks: llmtest.ToolCall(0, "c1", "youtube_search", `{"q":"rust async"}`)},
		llmtest.Turn{Chunks: llmtest.Text("answer")},
	)
	h.llm.WithObjects(llmtest.Object{JSON: `{"query":"rust async"}`})
	h.videos.hits["rust async"] = hits("a", "b")

	out := h.orch.Run(context.Background(), userRequest("youtube", "rust async"), h.sink)
	require.Equal(t, StateDone, out.State)

	fs := frames(t, h.sink)
	assert.Equal(t, []string{"tool-call", "tool-result", "text"}, types(fs))
	assert.Equal(t, map[string]any{"query": "rust async"}, fs[0]["args"])
	assert.Len(t, fs[1]["result"].(map[string]any)["results"], 2)
	assert.Len(t, h.llm.ObjectRequests(), 1)
}

func TestRepairThatStillFailsIsAToolError(t *testing.T) {
	h := newHarness(t, time.Second,
		llmtest.Turn{Chunks: llmtest.ToolCall(0, "c1", "youtube_search", `{"q":"rust"}`)},
		llmtest.Turn{Chunks: llmtest.Text("answer")},
	)
	h.llm.WithObjects(llmtest.Object{JSON: `{"search":"rust"}`}, llmtest.Object{JSON: `{"query":"never used"}`})

	out := h.orch.Run(context.Background(), userRequest("youtube", "rust"), h.sink)
	require.Equal(t, StateDone, out.State)
	assert.True(t, out.Degraded)

	fs := frames(t, h.sink)
	assert.Equal(t, []string{"tool-call", "tool-result", "text"}, types(fs))
	assert.NotEmpty(t, fs[1]["result"].(map[string]any)["error"])
	assert.Len(t, h.llm.ObjectRequests(), 1, "repair depth is one")
}

func TestFailedRepairIsASelectionError(t *testing.T) {
	h := newHarness(t, time.Second,
		llmtest.Turn{Chunks: llmtest.ToolCall(0, "c1", "youtube_search", `not json`)},
		llmtest.Turn{Chunks: llmtest.Text("answer")},
	)
	h.llm.WithObjects(llmtest.Object{Err: llm.ErrInvalidObject})

	out := h.orch.Run(context.Background(), userRequest("youtube", "rust"), h.sink)
	require.Equal(t, StateDone, out.State)
	fs := frames(t, h.sink)
	assert.Equal(t, []string{"error", "text"}, types(fs))
}

func TestNoToolCallsAnswersWithoutContext(t *testing.T) {
	h := newHarness(t, time.Second,
		llmtest.Turn{Chunks: llmtest.Text("I would rather just answer.")},
		llmtest.Turn{Chunks: llmtest.Text("Plain answer")},
	)
	out := h.orch.Run(context.Background(), userRequest("reddit", "hello"), h.sink)
	require.Equal(t, StateDone, out.State)
	assert.True(t, out.Degraded)

	fs := frames(t, h.sink)
	assert.Equal(t, []string{"text", "text"}, types(fs))
	assert.Len(t, h.llm.Requests()[1].Messages, 1)
}

func TestResultsFollowCallOrderNotCompletionOrder(t *testing.T) {
	h := newHarness(t, time.Second,
		llmtest.Turn{Chunks: llmtest.Concat(
			llmtest.ToolCall(0, "slow", "youtube_search", `{"query":"slow"}`),
			llmtest.ToolCall(1, "fast", "youtube_search", `{"query":"fast"}`),
		)},
		llmtest.Turn{Chunks: llmtest.Text("done")},
	)
	h.videos.delay["slow"] = 40 * time.Millisecond
	h.videos.hits["slow"] = hits("s")
	h.videos.hits["fast"] = hits("f")

	started := time.Now()
	h.orch.Run(context.Background(), userRequest("youtube", "q"), h.sink)
	elapsed := time.Since(started)

	fs := frames(t, h.sink)
	require.Equal(t, []string{"tool-call", "tool-call", "tool-result", "tool-result", "text"}, types(fs))
	assert.Equal(t, "slow", fs[2]["callId"])
	assert.Equal(t, "fast", fs[3]["callId"])
	assertPairing(t, fs)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

type failingSink struct {
	mu      sync.Mutex
	allowed int
	written []stream.Event
}

func (s *failingSink) Emit(_ context.Context, e stream.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.written) >= s.allowed {
		return fmt.Errorf("write: %w", stream.ErrClosed)
	}
	s.written = append(s.written, e)
	return nil
}

func TestClientDisconnectAbortsWithoutFallback(t *testing.T) {
	h := newHarness(t, time.Second,
		llmtest.Turn{Chunks: llmtest.ToolCall(0, "c1", "youtube_search", `{"query":"q"}`)},
		llmtest.Turn{Chunks: llmtest.Text("never sent")},
	)
	h.videos.hits["q"] = hits("a")
	sink := &failingSink{allowed: 1}

	out := h.orch.Run(context.Background(), userRequest("youtube", "q"), sink)
	assert.Equal(t, StateAborted, out.State)
	require.Len(t, sink.written, 1)
	assert.Equal(t, stream.KindToolCall, sink.written[0].Kind())
	assert.Len(t, h.llm.Requests(), 1, "phase 2 is never started")
}

func TestCancelledCallerGetsNothing(t *testing.T) {
	h := newHarness(t, time.Second, llmtest.Turn{Block: true})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	out := h.orch.Run(ctx, userRequest("youtube", "q"), h.sink)
	assert.Equal(t, StateAborted, out.State)
	assert.Empty(t, h.sink.Events())
}

func TestLastUserText(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: "first"},
		{Role: llm.RoleAssistant, Content: "reply"},
		{Role: llm.RoleUser, Content: "  second  "},
		{Role: llm.RoleAssistant, Content: "reply"},
	}
	assert.Equal(t, "second", LastUserText(msgs))
	assert.Equal(t, "", LastUserText(nil))
}
