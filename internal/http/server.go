package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"fenixbot/internal/config"
	"fenixbot/internal/domain"
	"fenixbot/internal/platform"
	"fenixbot/internal/service/fulfil"
	storepkg "fenixbot/internal/store"
)

type contextKey string

const contextKeyAdminSubject contextKey = "admin_subject"

// SellService is the engine entry point exposed to the API.
type SellService interface {
	Submit(ctx context.Context, in fulfil.SubmitInput) (domain.SellRequest, error)
	Status(ctx context.Context, id string) (domain.SellRequest, error)
}

type BotStatuses interface {
	Statuses() []domain.BotStatus
}

type EventSink interface {
	Publish(ctx context.Context, ev domain.OfferEvent) error
}

type Server struct {
	cfg     config.Config
	sells   SellService
	bots    BotStatuses
	events  EventSink
	metrics http.Handler
	logger  *zap.Logger
}

func NewServer(
	cfg config.Config,
	sells SellService,
	bots BotStatuses,
	events EventSink,
	metrics http.Handler,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		sells:   sells,
		bots:    bots,
		events:  events,
		metrics: metrics,
		logger:  logger.Named("http"),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Post("/admin/login", s.handleAdminLogin)
	r.Post("/platform/offers/events", s.handleOfferEvent)

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireAdmin)
		protected.Post("/sell-requests", s.handleSubmit)
		protected.Get("/sell-requests/{id}", s.handleStatus)
		protected.Get("/bots", s.handleBots)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username != s.cfg.AdminUsername || req.Password != s.cfg.AdminPassword {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := s.signAdminToken(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create admin token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"type":       "Bearer",
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var in fulfil.SubmitInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := s.sells.Submit(r.Context(), in)
	switch {
	case errors.Is(err, fulfil.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, fulfil.ErrNoBots):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Error("submit sell request", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store sell request")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"request_id": req.ID,
		"status":     req.Status,
		"bot_id":     req.BotID,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	req, err := s.sells.Status(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storepkg.ErrNotFound) {
		writeError(w, http.StatusNotFound, "sell request not found")
		return
	}
	if err != nil {
		s.logger.Error("load sell request", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load sell request")
		return
	}
	body := map[string]interface{}{
		"request_id": req.ID,
		"status":     req.Status,
		"updated_at": req.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if req.Status == domain.SellStatusListed {
		body["listing_id"] = req.ListingID
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleBots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bots": s.bots.Statuses(),
	})
}

// handleOfferEvent accepts offer state change notifications pushed by the
// platform. The state may be given by name or as the platform's raw code.
func (s *Server) handleOfferEvent(w http.ResponseWriter, r *http.Request) {
	if !s.validWebhookSecret(r.Header.Get("X-Webhook-Secret")) {
		writeError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}
	var req struct {
		BotID    string `json:"bot_id"`
		OfferID  string `json:"offer_id"`
		State    string `json:"state"`
		RawState int    `json:"trade_offer_state"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BotID == "" || req.OfferID == "" {
		writeError(w, http.StatusBadRequest, "bot_id and offer_id are required")
		return
	}
	state, ok := parseOfferState(req.State, req.RawState)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown offer state")
		return
	}

	ev := domain.OfferEvent{BotID: req.BotID, OfferID: req.OfferID, State: state, ObservedAt: time.Now().UTC()}
	if err := s.events.Publish(r.Context(), ev); err != nil {
		if errors.Is(err, fulfil.ErrUnknownBot) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Warn("offer event rejected", zap.String("offer_id", req.OfferID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "event not accepted")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

func (s *Server) validWebhookSecret(got string) bool {
	if s.cfg.WebhookSecret == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) == 1
}

var knownOfferStates = map[domain.OfferState]bool{
	domain.OfferStateActive:       true,
	domain.OfferStateAccepted:     true,
	domain.OfferStateDeclined:     true,
	domain.OfferStateCanceled:     true,
	domain.OfferStateCountered:    true,
	domain.OfferStateInvalidItems: true,
}

func parseOfferState(name string, raw int) (domain.OfferState, bool) {
	if name != "" {
		state := domain.OfferState(strings.ToLower(strings.TrimSpace(name)))
		return state, knownOfferStates[state]
	}
	if raw > 0 {
		return platform.MapOfferState(raw), true
	}
	return "", false
}

func (s *Server) signAdminToken(subject string) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(12 * time.Hour)
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": expiresAt.Unix(),
		"iat": time.Now().UTC().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid admin claims")
			return
		}
		sub, _ := claims["sub"].(string)
		ctx := context.WithValue(r.Context(), contextKeyAdminSubject, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
