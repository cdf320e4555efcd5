// Package api serves the JSON control surface of the mixer: tempo,
// crossfade, effects, banks and state import/export, plus the output relay
// endpoint.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/bbernstein/vizmix-go/internal/services/effects"
	"github.com/bbernstein/vizmix-go/internal/services/media"
	"github.com/bbernstein/vizmix-go/internal/services/mixer"
	"github.com/bbernstein/vizmix-go/internal/services/settings"
	"github.com/bbernstein/vizmix-go/internal/services/shader"
)

// errBadRequest marks malformed request bodies and parameters.
var errBadRequest = errors.New("bad request")

// Dependencies are the services behind the API. Settings and Relay may be
// nil, in which case their routes report 503.
type Dependencies struct {
	Engine   *mixer.Engine
	Settings *settings.Service
	Relay    http.Handler
	Version  string
}

// Server holds the handlers.
type Server struct {
	engine   *mixer.Engine
	settings *settings.Service
	relay    http.Handler
	version  string
	started  time.Time
}

// NewServer creates the API server.
func NewServer(deps Dependencies) *Server {
	return &Server{
		engine:   deps.Engine,
		settings: deps.Settings,
		relay:    deps.Relay,
		version:  deps.Version,
		started:  time.Now(),
	}
}

// Options configures the router middleware.
type Options struct {
	CORSOrigins []string
	Debug       bool
	Timeout     time.Duration
}

// Router returns the chi router with middleware and every route mounted.
// The relay endpoint is outside the request timeout.
func (s *Server) Router(opts Options) http.Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		Debug:            opts.Debug,
	})
	router.Use(corsMiddleware.Handler)

	router.Get("/output", s.output)
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(opts.Timeout))
		s.Routes(r)
	})
	return router
}

// Routes mounts the JSON routes on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.health)

	r.Get("/state", s.getState)
	r.Put("/state", s.importState)
	r.Get("/shaders", s.shaders)

	r.Route("/tempo", func(r chi.Router) {
		r.Get("/", s.getTempo)
		r.Post("/tap", s.tap)
		r.Put("/bpm", s.setBPM)
		r.Post("/toggle", s.togglePlay)
		r.Put("/auto-switch", s.setAutoSwitch)
		r.Post("/auto-switch/toggle", s.toggleAutoSwitch)
		r.Put("/interval", s.setInterval)
	})

	r.Route("/mixer", func(r chi.Router) {
		r.Put("/crossfade", s.setCrossfade)
		r.Put("/dimmer/{channel}", s.setDimmer)
		r.Put("/beat-flash", s.setBeatFlash)
		r.Put("/output-size", s.setOutputSize)
	})

	r.Route("/effects", func(r chi.Router) {
		r.Get("/", s.getEffects)
		r.Post("/reset", s.resetEffects)
		r.Put("/{name}", s.setEffect)
		r.Post("/{name}/toggle", s.toggleEffect)
		r.Post("/{name}/reset", s.resetEffect)
	})

	r.Route("/channels/{channel}", func(r chi.Router) {
		r.Get("/", s.getChannel)
		r.Post("/banks/{index}/switch", s.switchBank)
		r.Put("/banks/{index}", s.replaceBank)
		r.Put("/transport", s.setTransport)
		r.Put("/rate", s.setRate)
	})

	r.Route("/settings", func(r chi.Router) {
		r.Get("/", s.loadSettings)
		r.Post("/save", s.saveSettings)
		r.Delete("/", s.clearSettings)
	})
}

func (s *Server) output(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("output relay disabled"))
		return
	}
	s.relay.ServeHTTP(w, r)
}

// health returns the server health status.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   s.version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"rendering": s.engine.IsRunning(),
		"frames":    s.engine.FrameCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]any{"error": err.Error()}
	var compileErr *media.ShaderCompileError
	if errors.As(err, &compileErr) {
		body["diagnostic"] = compileErr.Diagnostic
	}
	writeJSON(w, status, body)
}

// fail maps err to a status code and writes it.
func fail(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func statusFor(err error) int {
	var (
		compileErr *media.ShaderCompileError
		loadErr    *media.VideoLoadError
		cameraErr  *media.CameraAccessError
	)
	switch {
	case errors.As(err, &compileErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &loadErr), errors.As(err, &cameraErr):
		return http.StatusBadGateway
	case errors.Is(err, media.ErrUnknownChannel),
		errors.Is(err, effects.ErrUnknownEffect),
		errors.Is(err, shader.ErrUnknownInput):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, media.ErrInvalidBankIndex),
		errors.Is(err, media.ErrEmptyBank),
		errors.Is(err, media.ErrInvalidTransport),
		errors.Is(err, effects.ErrNotToggleable),
		errors.Is(err, shader.ErrInputArity),
		errors.Is(err, mixer.ErrInvalidSize):
		return http.StatusBadRequest
	case errors.Is(err, media.ErrNoShader):
		return http.StatusConflict
	case errors.Is(err, mixer.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into dst.
func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}
