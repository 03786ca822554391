package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelbench/pkg/types"
)

// NewMux builds the HTTP handler for svc.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5, "application/json"))
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{svc: svc}

	r.Route("/models", func(r chi.Router) {
		r.Get("/", h.listModels)
		r.Get("/{id}", h.getModel)
		r.Post("/{id}/download", h.startDownload)
		r.Delete("/{id}/download", h.cancelDownload)
		r.Delete("/{id}/bundle", h.deleteBundle)
		r.Post("/{id}/load", h.loadModel)
	})
	r.Get("/downloads", h.downloads)
	r.Get("/downloads/events", h.downloadEvents)

	r.Post("/session/reset", h.reset)
	r.Post("/prompt", h.prompt)

	r.Get("/tests/domains", h.domains)
	r.Post("/tests/run", h.runTests)

	r.Put("/auth/token", h.setToken)
	r.Delete("/auth/token", h.clearToken)

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

type handlers struct {
	svc Service
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a JSON body into v. An empty body is accepted when
// optional is set. It writes the error response itself and reports success.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	if optional && r.ContentLength == 0 {
		return true
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// ndjson writes one JSON value per line and flushes after each.
type ndjson struct {
	enc   *json.Encoder
	flush func()
	lines int
}

func newNDJSON(w http.ResponseWriter, r *http.Request, route string) *ndjson {
	w.Header().Set("Content-Type", "application/x-ndjson")
	out := io.Writer(w)
	if requestLogLevel(r) >= LevelDebug {
		out = io.MultiWriter(w, &loggingLineWriter{route: route})
	}
	n := &ndjson{enc: json.NewEncoder(out)}
	if f, ok := w.(http.Flusher); ok {
		n.flush = f.Flush
	}
	return n
}

func (n *ndjson) send(v any) error {
	if err := n.enc.Encode(v); err != nil {
		return err
	}
	n.lines++
	if n.flush != nil {
		n.flush()
	}
	return nil
}

func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: h.svc.ListModels()})
}

func (h *handlers) getModel(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetModel(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *handlers) startDownload(w http.ResponseWriter, r *http.Request) {
	var req types.DownloadRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	if err := h.svc.StartDownload(chi.URLParam(r, "id"), req.Force); err != nil {
		writeError(w, err)
		return
	}
	m, err := h.svc.GetModel(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, m)
}

func (h *handlers) cancelDownload(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.CancelDownload(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.CancelResponse{Cancelled: ok})
}

func (h *handlers) deleteBundle(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.DeleteBundle(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.DeleteResponse{Deleted: ok})
}

func (h *handlers) loadModel(w http.ResponseWriter, r *http.Request) {
	var req types.LoadModelRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if err := h.svc.LoadModel(ctx, chi.URLParam(r, "id"), req.UseGPU); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Status())
}

func (h *handlers) downloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.DownloadsResponse{Downloads: h.svc.Downloads()})
}

func (h *handlers) downloadEvents(w http.ResponseWriter, r *http.Request) {
	ch, stop := h.svc.WatchDownloads()
	defer stop()
	out := newNDJSON(w, r, "downloads")
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case list, ok := <-ch:
			if !ok {
				return
			}
			if err := out.send(types.DownloadsResponse{Downloads: list}); err != nil {
				return
			}
		}
	}
}

func (h *handlers) reset(w http.ResponseWriter, r *http.Request) {
	var req types.ResetRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	if err := h.svc.ResetConversation(req.SystemPrompt); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) prompt(w http.ResponseWriter, r *http.Request) {
	var req types.PromptRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	lvl := requestLogLevel(r)
	start := time.Now()
	logStart(r, lvl, "prompt")

	// Join server base context with request context so shutdown cancels work too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	if promptTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, promptTimeout)
		defer tcancel()
	}

	if !req.Stream {
		text, err := h.svc.Prompt(ctx, req.Prompt, nil)
		if err != nil {
			code := writeError(w, err)
			logEnd(r, lvl, "prompt", code, start, err)
			return
		}
		writeJSON(w, http.StatusOK, types.PromptResponse{Content: text})
		logEnd(r, lvl, "prompt", http.StatusOK, start, nil)
		return
	}

	out := newNDJSON(w, r, "prompt")
	_, err := h.svc.Prompt(ctx, req.Prompt, func(frag string) error {
		return out.send(types.PromptChunk{Delta: frag})
	})
	if err != nil {
		// If the client went away there is nobody to tell.
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		if out.lines == 0 {
			code := writeError(w, err)
			logEnd(r, lvl, "prompt", code, start, err)
			return
		}
		_ = out.send(types.PromptChunk{Done: true, Error: err.Error()})
		logEnd(r, lvl, "prompt", http.StatusOK, start, err)
		return
	}
	_ = out.send(types.PromptChunk{Done: true})
	logEnd(r, lvl, "prompt", http.StatusOK, start, nil)
}

func (h *handlers) domains(w http.ResponseWriter, r *http.Request) {
	ds, err := h.svc.Domains()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.DomainsResponse{Domains: ds})
}

func (h *handlers) runTests(w http.ResponseWriter, r *http.Request) {
	var req types.RunTestsRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}
	lvl := requestLogLevel(r)
	start := time.Now()
	logStart(r, lvl, "tests")

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	ch, err := h.svc.RunTests(ctx, req)
	if err != nil {
		code := writeError(w, err)
		logEnd(r, lvl, "tests", code, start, err)
		return
	}
	out := newNDJSON(w, r, "tests")
	for st := range ch {
		if err := out.send(st); err != nil {
			// Keep draining so the run can finish.
			cancel()
		}
	}
	logEnd(r, lvl, "tests", http.StatusOK, start, nil)
}

func (h *handlers) setToken(w http.ResponseWriter, r *http.Request) {
	var req types.TokenRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if err := h.svc.SetToken(req.Token); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) clearToken(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearToken(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
