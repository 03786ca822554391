package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelbench/internal/auth"
	"modelbench/internal/catalog"
	"modelbench/internal/download"
	"modelbench/internal/engine"
	"modelbench/internal/runner"
	"modelbench/internal/suite"
	"modelbench/pkg/types"
)

type echoBackend struct{}

func (echoBackend) SupportsTools() bool { return false }
func (echoBackend) Load(context.Context, engine.LoadOptions) (engine.Model, error) {
	return echoModel{}, nil
}

type echoModel struct{}

func (echoModel) Generate(ctx context.Context, h []engine.Message, _ []engine.Tool, onToken func(string) error) (engine.FinalResult, error) {
	last := h[len(h)-1].Content
	out := "echo: " + last
	if strings.Contains(last, "2+2") {
		out = "The answer is 4."
	}
	if err := onToken(out); err != nil {
		return engine.FinalResult{}, err
	}
	return engine.FinalResult{Content: out}, nil
}
func (echoModel) Close() error { return nil }

type coreFixture struct {
	core *Core
	h    http.Handler
	dl   *download.Manager
	eng  *engine.Engine
}

func newCoreFixture(t *testing.T, withSuite bool) *coreFixture {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("weights"))
	}))
	t.Cleanup(srv.Close)

	repo := catalog.NewRepository(zerolog.Nop())
	repo.SetModels([]catalog.ModelConfiguration{{
		ModelID: "tiny", ModelFamily: "test", DownloadURL: srv.URL + "/tiny.bin", BundleFilename: "tiny.bin",
	}})
	tokens, err := auth.NewTokenStore("", zerolog.Nop())
	require.NoError(t, err)
	dl, err := download.NewManager(t.TempDir(), download.WithTokenSource(tokens))
	require.NoError(t, err)
	t.Cleanup(dl.Dispose)
	eng := engine.New(echoBackend{})
	t.Cleanup(func() { _ = eng.CloseSession() })

	var r *runner.Runner
	if withSuite {
		s, err := suite.Parse(".yaml", []byte(`
tests:
  - name: arithmetic
    domain: GENERIC
    query: "2+2?"
    validator: {kind: contains, values: ["4"]}
`))
		require.NoError(t, err)
		r, err = runner.New(s, "tiny", runner.Deps{Catalog: repo, Downloads: dl, Session: eng})
		require.NoError(t, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	core := NewCore(ctx, CoreDeps{
		Catalog: repo, Downloads: dl, Engine: eng, Runner: r, Tokens: tokens, Backend: "fake",
	})
	return &coreFixture{core: core, h: NewMux(core), dl: dl, eng: eng}
}

func TestCore_LoadAndPrompt(t *testing.T) {
	f := newCoreFixture(t, false)

	w := do(f.h, http.MethodPost, "/prompt", `{"prompt":"hi"}`)
	assert.Equal(t, http.StatusConflict, w.Code, "prompt before load")

	w = do(f.h, http.MethodPost, "/models/tiny/load", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var st types.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "ready", st.EngineState)
	assert.Equal(t, "tiny", st.ModelID)

	w = do(f.h, http.MethodPost, "/prompt", `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp types.PromptResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "echo: hi", resp.Content)

	w = do(f.h, http.MethodPost, "/prompt", `{"prompt":"2+2?","stream":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "The answer is 4.")

	m, err := f.core.GetModel("tiny")
	require.NoError(t, err)
	assert.Equal(t, "completed", m.DownloadState)
	assert.Len(t, f.eng.History(), 4)

	w = do(f.h, http.MethodPost, "/session/reset", "")
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, f.eng.History())
}

func TestCore_ClosedSessionIs409(t *testing.T) {
	f := newCoreFixture(t, false)
	require.NoError(t, f.eng.CloseSession())
	w := do(f.h, http.MethodPost, "/models/tiny/load", "")
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.False(t, f.core.Ready())
}

func TestCore_DownloadLifecycle(t *testing.T) {
	f := newCoreFixture(t, false)
	events, stop := f.core.WatchDownloads()
	defer stop()

	require.NoError(t, f.core.StartDownload("tiny", false))
	deadline := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case list := <-events:
			for _, d := range list {
				if d.Filename == "tiny.bin" && d.State == "completed" {
					done = true
				}
			}
		case <-deadline:
			t.Fatal("download did not complete")
		}
	}
	assert.Equal(t, "completed", f.core.Downloads()[0].State)

	deleted, err := f.core.DeleteBundle("tiny")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = f.core.DeleteBundle("tiny")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = f.core.CancelDownload("ghost")
	assert.ErrorIs(t, err, catalog.ErrModelNotFound)
}

func TestCore_RunTestsAndDomains(t *testing.T) {
	f := newCoreFixture(t, true)
	ds, err := f.core.Domains()
	require.NoError(t, err)
	assert.Equal(t, []string{"GENERIC"}, ds)

	_, err = f.core.RunTests(context.Background(), types.RunTestsRequest{Domain: "nope"})
	assert.Equal(t, http.StatusBadRequest, statusFor(err))

	w := do(f.h, http.MethodPost, "/tests/run", `{"domain":"generic"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var last types.TestStatus
	lines := ndjsonLines(t, w.Body.String())
	require.Len(t, lines, 3)
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &last))
	assert.Equal(t, "PASS", last.State, last.Message)
	assert.Equal(t, "GENERIC", last.Domain)
}

func TestCore_RunTestsBusy(t *testing.T) {
	f := newCoreFixture(t, true)
	ch, err := f.core.RunTests(context.Background(), types.RunTestsRequest{})
	require.NoError(t, err)
	_, err = f.core.RunTests(context.Background(), types.RunTestsRequest{})
	assert.ErrorIs(t, err, ErrBusy)
	for range ch {
	}
	// The flag is cleared once the channel is closed.
	require.Eventually(t, func() bool { return !f.core.running.Load() }, time.Second, 10*time.Millisecond)
	ch, err = f.core.RunTests(context.Background(), types.RunTestsRequest{})
	require.NoError(t, err)
	for range ch {
	}
}

func TestCore_NoSuite(t *testing.T) {
	f := newCoreFixture(t, false)
	w := do(f.h, http.MethodGet, "/tests/domains", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCore_Token(t *testing.T) {
	f := newCoreFixture(t, false)
	assert.Equal(t, http.StatusBadRequest, do(f.h, http.MethodPut, "/auth/token", `{"token":"  "}`).Code)
	assert.Equal(t, http.StatusNoContent, do(f.h, http.MethodPut, "/auth/token", `{"token":"secret"}`).Code)
	tok, ok := f.core.d.Tokens.Token()
	require.True(t, ok)
	assert.Equal(t, "secret", tok)
	assert.Equal(t, http.StatusNoContent, do(f.h, http.MethodDelete, "/auth/token", "").Code)
	_, ok = f.core.d.Tokens.Token()
	assert.False(t, ok)
}

func TestCore_Status(t *testing.T) {
	f := newCoreFixture(t, false)
	st := f.core.Status()
	assert.Equal(t, "uninitialized", st.EngineState)
	assert.Equal(t, 1, st.CatalogSize)
	assert.Equal(t, "fake", st.Backend)
	assert.True(t, f.core.Ready())
}
