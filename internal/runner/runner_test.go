package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelbench/internal/catalog"
	"modelbench/internal/download"
	"modelbench/internal/engine"
	"modelbench/internal/suite"
)

// scriptedBackend answers every user turn with reply(query).
type scriptedBackend struct {
	mu    sync.Mutex
	loads int
	reply func(query string) string
}

func (b *scriptedBackend) SupportsTools() bool { return false }

func (b *scriptedBackend) Load(ctx context.Context, o engine.LoadOptions) (engine.Model, error) {
	b.mu.Lock()
	b.loads++
	b.mu.Unlock()
	return scriptedModel{b: b}, nil
}

func (b *scriptedBackend) loadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads
}

type scriptedModel struct{ b *scriptedBackend }

func (m scriptedModel) Generate(ctx context.Context, h []engine.Message, _ []engine.Tool, onToken func(string) error) (engine.FinalResult, error) {
	resp := m.b.reply(h[len(h)-1].Content)
	for _, w := range strings.SplitAfter(resp, " ") {
		if err := onToken(w); err != nil {
			return engine.FinalResult{}, err
		}
	}
	return engine.FinalResult{Content: resp}, nil
}

func (m scriptedModel) Close() error { return nil }

type harness struct {
	runner  *Runner
	engine  *engine.Engine
	backend *scriptedBackend
	hits    *atomic.Int32
}

// newHarness wires a real repository, download manager and engine around a
// bundle server. failFirst makes the first n bundle requests fail.
func newHarness(t *testing.T, suiteYAML string, failFirst int32) *harness {
	t.Helper()
	hits := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= failFirst {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("weights"))
	}))
	t.Cleanup(srv.Close)

	repo := catalog.NewRepository(zerolog.Nop())
	repo.SetModels([]catalog.ModelConfiguration{{
		ModelID:        "tiny",
		ModelFamily:    "test",
		DownloadURL:    srv.URL + "/tiny.bin",
		BundleFilename: "tiny.bin",
	}})
	dl, err := download.NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(dl.Dispose)

	be := &scriptedBackend{reply: func(q string) string {
		if q == "2+2?" {
			return "The answer is 4."
		}
		return "I do not know."
	}}
	eng := engine.New(be)
	t.Cleanup(func() { _ = eng.CloseSession() })

	s, err := suite.Parse(".yaml", []byte(suiteYAML))
	require.NoError(t, err)
	r, err := New(s, "tiny", Deps{Catalog: repo, Downloads: dl, Session: eng})
	require.NoError(t, err)
	return &harness{runner: r, engine: eng, backend: be, hits: hits}
}

func collect(t *testing.T, ch <-chan TestStatus) []TestStatus {
	t.Helper()
	var out []TestStatus
	timeout := time.After(5 * time.Second)
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, st)
		case <-timeout:
			t.Fatalf("run did not finish; got %v", out)
		}
	}
}

// trail returns "name:STATE" entries for quick comparison.
func trail(sts []TestStatus) []string {
	out := make([]string, len(sts))
	for i, s := range sts {
		out[i] = s.Name + ":" + string(s.State)
	}
	return out
}

const arithmeticSuite = `
tests:
  - name: t1
    domain: GENERIC
    query: "2+2?"
    validator: {kind: contains, values: ["4"]}
`

func TestRunTests_TwoPlusTwoPasses(t *testing.T) {
	for _, streaming := range []bool{false, true} {
		h := newHarness(t, arithmeticSuite, 0)
		ch, err := h.runner.RunTests(context.Background(), RunOptions{Streaming: streaming})
		require.NoError(t, err)
		sts := collect(t, ch)
		assert.Equal(t, []string{"t1:IDLE", "t1:RUNNING", "t1:PASS"}, trail(sts), "streaming=%v", streaming)
		assert.Equal(t, engine.Ready, h.engine.State())
	}
}

func TestRunTests_DownloadFailureFailsCaseAndContinues(t *testing.T) {
	h := newHarness(t, `
tests:
  - name: first
    domain: GENERIC
    query: "2+2?"
    validator: {kind: contains, values: ["4"]}
  - name: second
    domain: GENERIC
    query: "2+2?"
    validator: {kind: contains, values: ["4"]}
`, 1)
	ch, err := h.runner.RunTests(context.Background(), RunOptions{})
	require.NoError(t, err)
	sts := collect(t, ch)
	require.Equal(t, []string{"first:IDLE", "second:IDLE", "first:RUNNING", "first:FAIL", "second:RUNNING", "second:PASS"}, trail(sts))
	assert.True(t, strings.HasPrefix(sts[3].Message, "infrastructure error:"), sts[3].Message)
	assert.Equal(t, int32(2), h.hits.Load())
}

func TestRunTests_ReloadsWhenSessionGPUSettingDiffers(t *testing.T) {
	h := newHarness(t, arithmeticSuite, 0)
	run := func(gpu bool) {
		ch, err := h.runner.RunTests(context.Background(), RunOptions{UseGPU: gpu})
		require.NoError(t, err)
		sts := collect(t, ch)
		require.Equal(t, "t1:PASS", trail(sts)[len(sts)-1])
	}
	run(false)
	require.Equal(t, 1, h.backend.loadCount())

	// Someone else reloads the same model with the GPU on.
	cfg, path, ready := h.engine.Model()
	require.True(t, ready)
	require.NoError(t, h.engine.Initialize(context.Background(), cfg, path, engine.InitOptions{UseGPU: true}))
	require.Equal(t, 2, h.backend.loadCount())
	assert.True(t, h.engine.LoadedOptions().UseGPU)

	run(false)
	assert.Equal(t, 3, h.backend.loadCount())
	assert.False(t, h.engine.LoadedOptions().UseGPU)

	run(false)
	assert.Equal(t, 3, h.backend.loadCount(), "matching session is reused")
}

const twoDomainSuite = `
tests:
  - name: g1
    domain: GENERIC
    query: "2+2?"
    validator: {kind: contains, values: ["4"]}
  - name: r1
    domain: ROUTING
    query: "route?"
    validator: {kind: json}
  - name: g2
    domain: GENERIC
    query: "who?"
    validator: {kind: contains, values: ["Ada"]}
`

func TestRunTests_DomainFilter(t *testing.T) {
	h := newHarness(t, twoDomainSuite, 0)
	assert.Equal(t, []suite.Domain{suite.Generic, suite.Routing}, h.runner.AvailableDomains())

	g := suite.Generic
	ch, err := h.runner.RunTests(context.Background(), RunOptions{Domain: &g})
	require.NoError(t, err)
	sts := collect(t, ch)
	for _, s := range sts {
		assert.Equal(t, suite.Generic, s.Domain)
	}
	assert.Equal(t, []string{"g1:IDLE", "g2:IDLE", "g1:RUNNING", "g1:PASS", "g2:RUNNING", "g2:FAIL"}, trail(sts))
	assert.Equal(t, 1, h.backend.loadCount(), "model should load once per run")
}

func TestRunTests_RunIDAndDurations(t *testing.T) {
	h := newHarness(t, twoDomainSuite, 0)
	ch, err := h.runner.RunTests(context.Background(), RunOptions{})
	require.NoError(t, err)
	sts := collect(t, ch)
	require.Len(t, sts, 9)
	id := sts[0].RunID
	_, err = uuid.Parse(id)
	require.NoError(t, err)
	for _, s := range sts {
		assert.Equal(t, id, s.RunID)
		if s.State.Done() {
			assert.Greater(t, s.Duration, time.Duration(0))
		}
	}

	ch, err = h.runner.RunTests(context.Background(), RunOptions{})
	require.NoError(t, err)
	again := collect(t, ch)
	assert.NotEqual(t, id, again[0].RunID)
}

func TestRunTests_ValidationErrorIsFail(t *testing.T) {
	h := newHarness(t, `
tests:
  - name: bad-regex
    domain: SAFETY
    query: "2+2?"
    validator: {kind: regex, pattern: "(unclosed"}
`, 0)
	ch, err := h.runner.RunTests(context.Background(), RunOptions{})
	require.NoError(t, err)
	sts := collect(t, ch)
	last := sts[len(sts)-1]
	assert.Equal(t, StateFail, last.State)
	assert.True(t, strings.HasPrefix(last.Message, "validation error:"), last.Message)
}

func TestRunTests_ClosedSessionFailsRemaining(t *testing.T) {
	h := newHarness(t, twoDomainSuite, 0)
	require.NoError(t, h.engine.CloseSession())

	ch, err := h.runner.RunTests(context.Background(), RunOptions{})
	require.NoError(t, err)
	sts := collect(t, ch)
	var finals []TestStatus
	for _, s := range sts {
		assert.NotEqual(t, StateRunning, s.State)
		if s.State.Done() {
			finals = append(finals, s)
		}
	}
	require.Len(t, finals, 3)
	for _, s := range finals {
		assert.Equal(t, StateFail, s.State)
		assert.Contains(t, s.Message, "infrastructure error:")
		assert.Contains(t, s.Message, "session closed")
	}
}

func TestRunTests_UnknownModelFailsEachCase(t *testing.T) {
	h := newHarness(t, twoDomainSuite, 0)
	h.runner.modelID = "ghost"
	ch, err := h.runner.RunTests(context.Background(), RunOptions{})
	require.NoError(t, err)
	sts := collect(t, ch)
	n := 0
	for _, s := range sts {
		if s.State == StateFail {
			n++
			assert.Contains(t, s.Message, "model not found")
		}
	}
	assert.Equal(t, 3, n)
	assert.Equal(t, int32(0), h.hits.Load())
}

func TestRunTests_CancelledContext(t *testing.T) {
	h := newHarness(t, twoDomainSuite, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ch, err := h.runner.RunTests(ctx, RunOptions{})
	require.NoError(t, err)
	for _, s := range collect(t, ch) {
		if s.State.Done() {
			assert.Equal(t, StateFail, s.State)
			assert.Contains(t, s.Message, "run cancelled")
		}
	}
}

func TestNew_RequiresSuiteAndDeps(t *testing.T) {
	_, err := New(nil, "m", Deps{})
	assert.True(t, suite.IsSuiteLoad(err))

	s, err := suite.Parse(".yaml", []byte(arithmeticSuite))
	require.NoError(t, err)
	_, err = New(s, "m", Deps{})
	assert.Error(t, err)

	_, err = Load("/does/not/exist.yaml", "m", Deps{})
	assert.True(t, suite.IsSuiteLoad(err))
}
