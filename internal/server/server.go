// Package server is the stateless backend proxy: it reshapes chat requests
// for a model provider, normalises the reply into an action, and fronts the
// translation provider.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nbenliogludev/go-page-pilot/internal/backend"
	"github.com/nbenliogludev/go-page-pilot/internal/config"
	"github.com/nbenliogludev/go-page-pilot/internal/llm"
)

// Providers resolves the request's model name.
type Providers interface {
	Get(name string) (llm.Provider, bool)
}

// Translator translates page text, keeping output aligned with input.
type Translator interface {
	Translate(ctx context.Context, texts []string, target string) ([]string, error)
	DefaultTarget() string
}

type Server struct {
	cfg        config.ServerConfig
	providers  Providers
	translator Translator
	limiter    *RateLimiter
	logger     *zap.Logger
}

func New(cfg config.ServerConfig, providers Providers, translator Translator, logger *zap.Logger) *Server {
	logger = logger.Named("server")
	return &Server{
		cfg:        cfg,
		providers:  providers,
		translator: translator,
		limiter:    NewRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst, logger),
		logger:     logger,
	}
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /translate", s.handleTranslate)
	return mux
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.setupRoutes()
	h = withBodyLimit(s.cfg.MaxBodyBytes, h)
	h = withRateLimit(s.limiter, h)
	h = withCORS(h)
	h = withAccessLog(s.logger, h)
	return withRequestID(h)
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	var wg sync.WaitGroup
	limiterCtx, stopLimiter := context.WithCancel(ctx)
	defer wg.Wait()
	defer stopLimiter()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.limiter.Run(limiterCtx, 5*time.Minute, 10*time.Minute)
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("backend proxy listening", zap.String("address", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down backend proxy")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-errCh
	s.logger.Info("backend proxy stopped")
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Page Pilot backend proxy",
		"status":  "online",
		"endpoints": map[string]string{
			"chat":      "POST /chat",
			"translate": "POST /translate",
		},
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

// chatBody keeps messages raw so a non-array value is told apart from a
// malformed body.
type chatBody struct {
	Messages    json.RawMessage `json:"messages"`
	PageContent string          `json:"page_content"`
	Elements    json.RawMessage `json:"elements"`
	URL         string          `json:"url"`
	Title       string          `json:"title"`
	Model       string          `json:"model"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatBody
	if !s.decode(w, r, &body) {
		return
	}
	if !isArray(body.Messages) {
		writeJSON(w, http.StatusBadRequest, errorBody("messages array is required"))
		return
	}
	var messages []llm.Message
	if err := json.Unmarshal(body.Messages, &messages); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("messages array is required"))
		return
	}

	logger := s.logger.With(zap.String("request_id", RequestID(r.Context())), zap.String("model", body.Model))

	provider, ok := s.providers.Get(body.Model)
	if !ok {
		logger.Error("no model provider configured")
		writeJSON(w, http.StatusInternalServerError, backend.NewChatResponse(llm.Answer(llm.FallbackGeneric)))
		return
	}

	action, err := llm.Decide(r.Context(), provider, llm.ChatRequest{
		Messages: messages,
		Context: llm.BrowserContext{
			PageContent: body.PageContent,
			Elements:    body.Elements,
			URL:         body.URL,
			Title:       body.Title,
		},
	})
	switch {
	case err == nil:
		logger.Debug("model decided", zap.String("provider", provider.Name()), zap.Stringer("action", action))
	case errors.Is(err, llm.ErrEmptyResponse), errors.Is(err, llm.ErrMalformed):
		logger.Warn("unusable model output", zap.String("provider", provider.Name()), zap.Error(err))
	default:
		logger.Error("model provider failed", zap.String("provider", provider.Name()), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, backend.NewChatResponse(action))
		return
	}
	writeJSON(w, http.StatusOK, backend.NewChatResponse(action))
}

type translateBody struct {
	Texts          json.RawMessage `json:"texts"`
	TargetLanguage string          `json:"targetLanguage"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var body translateBody
	if !s.decode(w, r, &body) {
		return
	}
	if !isArray(body.Texts) {
		writeJSON(w, http.StatusBadRequest, errorBody("texts array is required"))
		return
	}
	var texts []string
	if err := json.Unmarshal(body.Texts, &texts); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("texts array is required"))
		return
	}
	if len(texts) == 0 {
		writeJSON(w, http.StatusOK, backend.TranslateResponse{TranslatedTexts: []string{}})
		return
	}

	target := body.TargetLanguage
	if target == "" {
		target = s.translator.DefaultTarget()
	}
	out, err := s.translator.Translate(r.Context(), texts, target)
	if err != nil {
		s.logger.Warn("translation aborted", zap.String("request_id", RequestID(r.Context())), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorBody("translation aborted"))
		return
	}
	writeJSON(w, http.StatusOK, backend.TranslateResponse{TranslatedTexts: out})
}

// decode reads a JSON body, answering 400 or 413 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("request body too large"))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

func isArray(raw json.RawMessage) bool {
	return bytes.HasPrefix(bytes.TrimSpace(raw), []byte("["))
}

func errorBody(msg string) backend.ErrorResponse {
	return backend.ErrorResponse{Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
