package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/rootcause/internal/models"
)

type stubBackend struct {
	reply string
	err   error
	delay time.Duration
	calls atomic.Int32
	last  Prompt

	// ignoreCtx makes the stub finish its delay even after cancellation.
	ignoreCtx bool
	panicMsg  string
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Complete(ctx context.Context, p Prompt) (string, error) {
	s.calls.Add(1)
	s.last = p
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.delay > 0 {
		if s.ignoreCtx {
			time.Sleep(s.delay)
		} else {
			select {
			case <-time.After(s.delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return s.reply, s.err
}

const structuredReply = `## Root Cause
- DYNAMIC_CONTENT_FAILURE: the dropdown options were read before the async request rendered them
- The click handler was bound late

## Why
1. The agent clicked the select element immediately
2. The options list is populated by an XHR after page load
3. No wait for visible options was configured

## Contributing Factors
- Slow staging server

## Recommendations
- Wait for the option element to be visible before selecting

## Summary
Options were not rendered when the agent tried to choose one.`

func testEvidence() models.EvidenceBundle {
	return models.EvidenceBundle{
		TaskID:      "task-42",
		FailureLog:  "TimeoutError: waiting for selector option[value=fr]",
		DOMSnapshot: `<html><script>var x = 1;</script><select id="country"></select></html>`,
		Actions: []models.Action{
			{Type: "click", Target: "select#country", Success: true},
		},
		Framework: "playwright",
		Timestamp: time.Now(),
	}
}

func TestConsult_StructuredReply(t *testing.T) {
	backend := &stubBackend{reply: structuredReply}
	a := NewAdapter(backend, nil)

	f := a.Consult(context.Background(), testEvidence(), time.Second)

	require.True(t, f.Success)
	assert.Equal(t, int32(1), backend.calls.Load())
	assert.Equal(t, "stub", f.Backend)
	assert.Equal(t, models.DynamicContentFailure, f.Label)
	require.Len(t, f.RootCauses, 2)
	assert.True(t, strings.HasPrefix(f.Primary(), "DYNAMIC_CONTENT_FAILURE"))
	assert.Len(t, f.WhyChain.Whys, 3)
	assert.Equal(t, f.Primary(), f.WhyChain.Cause)
	assert.Equal(t, []string{"Slow staging server"}, f.ContributingFactors)
	assert.Len(t, f.Recommendations, 1)
	assert.Equal(t, "Options were not rendered when the agent tried to choose one.", f.Summary)
	assert.Greater(t, f.Confidence, 0.7)
	assert.LessOrEqual(t, f.Confidence, 1.0)

	assert.Equal(t, SystemPrompt, backend.last.System)
	assert.Contains(t, backend.last.User, "task-42")
	assert.Contains(t, backend.last.User, "playwright")
	assert.NotContains(t, backend.last.User, "var x")
}

func TestConsult_TimingsAreNotStatusCodes(t *testing.T) {
	tests := []struct {
		reply string
		want  models.RootCause
	}{
		{"## Root Cause\n- The submit button could not be located; selector timed out after 5000ms.", models.DOMParsingFailure},
		{"## Root Cause\n- Agent selected the wrong option within 1500ms of opening the menu.", models.AgentReasoningFailure},
		{"## Root Cause\n- The server responded with 503 while the agent waited 5000ms.", models.WebsiteStateFailure},
	}
	for _, tt := range tests {
		f := NewAdapter(&stubBackend{reply: tt.reply}, nil).Consult(context.Background(), testEvidence(), time.Second)

		require.True(t, f.Success, tt.reply)
		assert.Equal(t, tt.want, f.Label, tt.reply)
	}
}

func TestConsult_Failures(t *testing.T) {
	tests := []struct {
		name    string
		backend *stubBackend
		want    string
	}{
		{"transport error", &stubBackend{err: errors.New("connection refused")}, "connection refused"},
		{"empty reply", &stubBackend{reply: "   "}, "unparseable"},
		{"backend panic", &stubBackend{panicMsg: "nil map"}, "nil map"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewAdapter(tt.backend, nil).Consult(context.Background(), testEvidence(), time.Second)

			assert.False(t, f.Success)
			assert.Equal(t, []string{models.AIAnalysisFailed}, f.RootCauses)
			assert.Equal(t, models.Unknown, f.Label)
			assert.Equal(t, 0.0, f.Confidence)
			assert.Contains(t, f.Error, tt.want)
			assert.Equal(t, int32(1), tt.backend.calls.Load())
		})
	}
}

func TestConsult_NoBackend(t *testing.T) {
	f := NewAdapter(nil, nil).Consult(context.Background(), testEvidence(), time.Second)
	assert.False(t, f.Success)
	assert.Contains(t, f.Error, "no oracle backend")

	var nilAdapter *Adapter
	f = nilAdapter.Consult(context.Background(), testEvidence(), time.Second)
	assert.False(t, f.Success)
}

func TestConsult_TimeoutDiscardsLateReply(t *testing.T) {
	backend := &stubBackend{reply: structuredReply, delay: 500 * time.Millisecond, ignoreCtx: true}
	a := NewAdapter(backend, nil)

	start := time.Now()
	f := a.Consult(context.Background(), testEvidence(), 50*time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, f.Success)
	assert.Contains(t, f.Error, "timed out")
	assert.Less(t, elapsed, 300*time.Millisecond)
	assert.Equal(t, int32(1), backend.calls.Load())
}

func TestConsult_ParentCancel(t *testing.T) {
	backend := &stubBackend{reply: structuredReply, delay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewAdapter(backend, nil).Consult(ctx, testEvidence(), time.Second)

	assert.False(t, f.Success)
	assert.Contains(t, f.Error, "canceled")
}

func TestMarkdownParser(t *testing.T) {
	p := NewMarkdownParser()

	t.Run("labeled lines without headings", func(t *testing.T) {
		parsed, err := p.Parse("Root cause: the Login button was covered by a cookie banner.\nWhy: the banner loads late\nRecommendation: dismiss the banner first")
		require.NoError(t, err)
		f := parsed.Finding
		assert.Equal(t, []string{"the Login button was covered by a cookie banner."}, f.RootCauses)
		assert.Equal(t, []string{"the banner loads late"}, f.WhyChain.Whys)
		assert.Equal(t, []string{"dismiss the banner first"}, f.Recommendations)
		assert.Equal(t, 3, parsed.Sections)
		assert.False(t, parsed.Fallback)
	})

	t.Run("bold labels", func(t *testing.T) {
		parsed, err := p.Parse("**Root Cause:** server returned 503\n\n**Summary:** site was down")
		require.NoError(t, err)
		assert.Equal(t, "server returned 503", parsed.Finding.Primary())
		assert.Equal(t, "site was down", parsed.Finding.Summary)
	})

	t.Run("sentence fallback", func(t *testing.T) {
		parsed, err := p.Parse("The page never loaded. The agent waited. Then it gave up. Nothing else happened.")
		require.NoError(t, err)
		assert.True(t, parsed.Fallback)
		assert.Equal(t, []string{"The page never loaded."}, parsed.Finding.RootCauses)
		assert.Equal(t, "The page never loaded. The agent waited. Then it gave up.", parsed.Finding.Summary)
		assert.Empty(t, parsed.Finding.WhyChain.Whys)
	})

	t.Run("text without punctuation", func(t *testing.T) {
		parsed, err := p.Parse("selector missing")
		require.NoError(t, err)
		assert.Equal(t, "selector missing", parsed.Finding.Primary())
	})

	t.Run("empty", func(t *testing.T) {
		_, err := p.Parse("\n\n")
		assert.ErrorIs(t, err, ErrEmptyReply)
	})

	t.Run("deterministic", func(t *testing.T) {
		a, err := p.Parse(structuredReply)
		require.NoError(t, err)
		b, err := p.Parse(structuredReply)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestScoreConfidence_Bounds(t *testing.T) {
	p := NewMarkdownParser()
	structured, err := p.Parse(structuredReply)
	require.NoError(t, err)
	fallback, err := p.Parse("It broke.")
	require.NoError(t, err)

	high := ScoreConfidence(structuredReply, structured)
	low := ScoreConfidence("It broke.", fallback)

	assert.Greater(t, high, low)
	assert.GreaterOrEqual(t, low, 0.0)
	assert.LessOrEqual(t, high, 1.0)
}

func TestBuildPrompt_Bounded(t *testing.T) {
	ev := testEvidence()
	ev.FailureLog = strings.Repeat("x", 5000) + "FINAL ERROR"
	ev.DOMSnapshot = "<div>" + strings.Repeat("word ", 2000) + "</div>"
	ev.Actions = nil
	for i := 0; i < 25; i++ {
		ev.Actions = append(ev.Actions, models.Action{Type: "click", Target: "btn", Success: i%2 == 0})
	}
	limits := Limits{MaxLogChars: 100, MaxSnapshotChars: 50, MaxActions: 3}

	p := BuildPrompt(ev, limits)

	assert.Contains(t, p.User, "FINAL ERROR")
	assert.NotContains(t, p.User, strings.Repeat("x", 101))
	assert.NotContains(t, p.User, "<div>")
	assert.Contains(t, p.User, "23. click")
	assert.Contains(t, p.User, "25. click")
	assert.NotContains(t, p.User, "22. click")
	assert.Less(t, len(p.User), 600)
}

func TestCleanSnapshot(t *testing.T) {
	in := "<html><head><style>.a{}</style></head><!-- note --><body><p>Hello\n\n  world</p><script>alert(1)</script></body></html>"
	assert.Equal(t, "Hello world", CleanSnapshot(in, 0))
	assert.Equal(t, "He...", CleanSnapshot(in, 5))
}

func TestParseClaudeOutput(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    string
		wantErr bool
	}{
		{"envelope", `{"type":"result","result":"Root cause: x","is_error":false,"session_id":"s1"}`, "Root cause: x", false},
		{"preamble", "warning: slow\n" + `{"type":"result","result":"ok"}`, "ok", false},
		{"plain text", "Root cause: y", "Root cause: y", false},
		{"error envelope", `{"type":"result","result":"quota","is_error":true}`, "", true},
		{"empty", "  ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseClaudeOutput([]byte(tt.out))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClaudeBackend_Args(t *testing.T) {
	b := NewClaudeBackend()
	b.Model = "sonnet"

	args := b.Args(Prompt{System: "sys", User: "usr"})

	assert.Equal(t, []string{
		"--system-prompt", "sys",
		"-p", "usr",
		"--model", "sonnet",
		"--output-format", "json",
		"--settings", `{"disableAllHooks": true}`,
	}, args)
}

func TestOpenAIBackend_Complete(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Root cause: stale selector"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	b, err := NewOpenAIBackend(OpenAIOptions{APIKey: "test-key", BaseURL: srv.URL + "/v1", Model: "local-model"})
	require.NoError(t, err)

	reply, err := b.Complete(context.Background(), Prompt{System: "sys", User: "usr"})
	require.NoError(t, err)
	assert.Equal(t, "Root cause: stale selector", reply)
	assert.Equal(t, "local-model", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "usr", got.Messages[1].Content)
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(BackendOptions{Kind: "none"})
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = NewBackend(BackendOptions{Kind: "claude", ClaudePath: "/opt/claude"})
	require.NoError(t, err)
	assert.Equal(t, "/opt/claude", b.(*ClaudeBackend).ClaudePath)

	t.Setenv("ROOTCAUSE_TEST_KEY", "")
	_, err = NewBackend(BackendOptions{Kind: "openai", APIKeyEnv: "ROOTCAUSE_TEST_KEY"})
	assert.ErrorContains(t, err, "ROOTCAUSE_TEST_KEY")

	_, err = NewBackend(BackendOptions{Kind: "telepathy"})
	assert.Error(t, err)
}
