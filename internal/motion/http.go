package motion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/your-org/motionwatch/internal/auth"
	"github.com/your-org/motionwatch/internal/dispatch"
	"github.com/your-org/motionwatch/internal/hub"
	"github.com/your-org/motionwatch/internal/model"
	"github.com/your-org/motionwatch/pkg/storage/eventstore"
	"github.com/your-org/motionwatch/pkg/storage/objectstore"
)

// Submitter runs a task on the dispatch goroutine and waits for it.
type Submitter interface {
	Submit(ctx context.Context, task dispatch.Task) error
}

// FrameCache exposes the most recent camera frame as JPEG.
type FrameCache interface {
	LatestFrame() ([]byte, bool)
}

// HandlerParams wires an HTTPHandler. Frames is optional.
type HandlerParams struct {
	Service    *Service
	Auth       *auth.Service
	Dispatcher Submitter
	Hub        *hub.Hub
	Frames     FrameCache
	Logger     *zap.Logger

	Host           string
	Port           int
	AllowedOrigins []string
	RequestTimeout time.Duration
	WSWriteTimeout time.Duration
}

// HTTPHandler exposes the REST API and the live event stream.
type HTTPHandler struct {
	service    *Service
	auth       *auth.Service
	dispatcher Submitter
	hub        *hub.Hub
	frames     FrameCache
	logger     *zap.Logger

	host           string
	port           int
	origins        []string
	requestTimeout time.Duration
	wsWriteTimeout time.Duration
	upgrader       websocket.Upgrader
	router         chi.Router
}

// NewHTTPHandler constructs the HTTP handler and wires routes.
func NewHTTPHandler(p HandlerParams) *HTTPHandler {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = 30 * time.Second
	}
	if p.WSWriteTimeout <= 0 {
		p.WSWriteTimeout = 5 * time.Second
	}
	h := &HTTPHandler{
		service:        p.Service,
		auth:           p.Auth,
		dispatcher:     p.Dispatcher,
		hub:            p.Hub,
		frames:         p.Frames,
		logger:         logger.Named("http"),
		host:           p.Host,
		port:           p.Port,
		origins:        p.AllowedOrigins,
		requestTimeout: p.RequestTimeout,
		wsWriteTimeout: p.WSWriteTimeout,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.originAllowed,
	}
	h.buildRouter()
	return h
}

func (h *HTTPHandler) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.cors)

	r.Get("/ws", h.handleStream)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(h.requestTimeout))

		r.Get("/health", h.handleHealth)
		r.Post("/login", h.handleLogin)
		r.Get("/latest-frame", h.handleLatestFrame)
		r.Get("/event-snapshot/{id}", h.handleSnapshot)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Middleware)
			r.Get("/me", h.handleMe)
			r.Post("/profile", h.handleProfile)
			r.Get("/motion-events", h.handleListEvents)
			r.Post("/motion-events/simulate", h.handleSimulate)
		})
	})

	h.router = r
}

// Router exposes the configured chi router.
func (h *HTTPHandler) Router() http.Handler {
	return h.router
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"host":   h.host,
		"port":   strconv.Itoa(h.port),
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *HTTPHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := h.auth.VerifyCredentials(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		h.logger.Error("verify credentials", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	tok, err := h.auth.IssueToken(r.Context(), p)
	if err != nil {
		h.logger.Error("issue token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      tok.Value,
		"token_type": "bearer",
		"expires_in": int(tok.ExpiresIn.Seconds()),
		"username":   tok.Username,
	})
}

func (h *HTTPHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"username": p.Username})
}

type profileRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewUsername     string `json:"newUsername"`
	NewPassword     string `json:"newPassword"`
}

func (h *HTTPHandler) handleProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, _ := auth.PrincipalFrom(r.Context())

	tok, err := h.auth.UpdateProfile(r.Context(), p, auth.ProfileUpdate{
		CurrentPassword: req.CurrentPassword,
		NewUsername:     req.NewUsername,
		NewPassword:     req.NewPassword,
	})
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrNothingToUpdate):
		writeError(w, http.StatusBadRequest, "Provide a new username or password.")
		return
	case errors.Is(err, auth.ErrUsernameTaken):
		writeError(w, http.StatusBadRequest, "Username already in use.")
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Current password is incorrect.")
		return
	default:
		h.logger.Error("update profile", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "profile update failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token":    tok.Value,
		"username": tok.Username,
	})
}

func (h *HTTPHandler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := h.service.DefaultLimit()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, limit)
	}

	events, err := h.service.FetchMotionEvents(r.Context(), limit)
	if err != nil {
		h.logger.Error("list motion events", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *HTTPHandler) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var saved *model.Event
	err := h.dispatcher.Submit(r.Context(), func(ctx context.Context) error {
		ev, err := h.service.PersistEvent(ctx, h.service.CreateMotionEvent("", ""), nil)
		saved = ev
		return err
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, saved)
	case errors.Is(err, dispatch.ErrNotRunning), errors.Is(err, dispatch.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "event pipeline unavailable")
	default:
		h.logger.Error("simulate motion event", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not record event")
	}
}

func (h *HTTPHandler) handleLatestFrame(w http.ResponseWriter, r *http.Request) {
	if h.frames == nil {
		writeError(w, http.StatusNotFound, "No frame captured yet.")
		return
	}
	frame, ok := h.frames.LatestFrame()
	if !ok {
		writeError(w, http.StatusNotFound, "No frame captured yet.")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame)
}

func (h *HTTPHandler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	rc, err := h.service.OpenSnapshot(r.Context(), id)
	if errors.Is(err, eventstore.ErrNotFound) || errors.Is(err, objectstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Snapshot not found.")
		return
	}
	if err != nil {
		h.logger.Error("open snapshot", zap.Int64("event_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load snapshot")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Debug("stream snapshot", zap.Int64("event_id", id), zap.Error(err))
	}
}

func (h *HTTPHandler) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (h *HTTPHandler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && h.originAllowed(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
