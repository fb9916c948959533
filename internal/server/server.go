// Package server exposes the photo store over HTTP: listing and capturing
// photos, serving gated images and thumbnails, signed download links and a
// WebSocket stream of store changes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/retom/internal/config"
	"github.com/dharsanguruparan/retom/internal/processing"
	"github.com/dharsanguruparan/retom/internal/signing"
	"github.com/dharsanguruparan/retom/internal/storage"
)

// Submitter accepts captures for background development.
type Submitter interface {
	Submit(processing.Capture) error
}

// Server hosts HTTP handlers for retom.
type Server struct {
	cfg    *config.Config
	store  *storage.Store
	pool   Submitter
	signer *signing.Signer
	log    logrus.FieldLogger
	thumbs *thumbCache
	hub    *hub

	once    sync.Once
	handler http.Handler
}

// New creates a configured server.
func New(cfg *config.Config, store *storage.Store, pool Submitter, signer *signing.Signer, logger logrus.FieldLogger) (*Server, error) {
	if cfg == nil || store == nil || pool == nil || signer == nil {
		return nil, errors.New("server: config, store, pool and signer are required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("component", "http")
	thumbs, err := newThumbCache(thumbCacheLimit)
	if err != nil {
		return nil, fmt.Errorf("thumbnail cache: %w", err)
	}
	return &Server{
		cfg:    cfg,
		store:  store,
		pool:   pool,
		signer: signer,
		log:    log,
		thumbs: thumbs,
		hub:    newHub(store, log),
	}, nil
}

// Serve runs the HTTP server until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		s.hub.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	s.log.WithField("address", s.cfg.Address).Info("listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the router. It is built once.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() { s.handler = s.routes() })
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/download", s.handleDownload)
	r.Get("/ws", s.hub.serveWS)
	r.Put("/premium", s.handlePremium)

	r.Route("/photos", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCapture)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handlePhoto)
			r.Get("/image", s.handleImage)
			r.Get("/thumbnail", s.handleThumbnail)
			r.Post("/unlock", s.handleUnlock)
			r.Put("/memo", s.handleMemo)
			r.Post("/signed-url", s.handleSignedURL)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"photos": s.store.Len(),
	})
}

// requestLogger logs one line per request with its status and latency.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"elapsed":    time.Since(start),
			"request_id": chimw.GetReqID(r.Context()),
		}).Debug("request")
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
