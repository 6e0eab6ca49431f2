package scoring

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/utilities"
)

type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type ExternalScoreRequest struct {
	UserID   int64          `json:"user_id" validate:"required,gt=0"`
	System   string         `json:"system" validate:"required,max=50"`
	Score    float64        `json:"score" validate:"gte=0,lte=1000"`
	Metadata map[string]any `json:"metadata"`
}

// Get returns the caller's score. Admins may ask for another user with
// ?user_id=.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	userID := p.UserID
	if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			utilities.WriteError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		if id != p.UserID && !p.IsAdmin() {
			utilities.WriteError(w, http.StatusForbidden, "forbidden")
			return
		}
		userID = id
	}
	cs, err := h.svc.Get(r.Context(), userID)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, cs)
}

func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	cs, err := h.svc.Recompute(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, cs)
}

func (h *Handler) SyncExternal(w http.ResponseWriter, r *http.Request) {
	var req ExternalScoreRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	cs, err := h.svc.SyncExternal(r.Context(), req.UserID, req.System, req.Score, req.Metadata)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, cs)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidScore):
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Errorw("credit score request failed", "error", err)
		utilities.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
