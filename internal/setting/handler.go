package setting

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/setting/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/utilities"
)

// Handler contains dependencies for handling setting endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

// NewHandler constructs a new Handler.
func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// PolicyResponse is the effective policy plus the overrides behind it.
type PolicyResponse struct {
	Circulation config.Circulation `json:"circulation"`
	Overrides   []*entity.Setting  `json:"overrides"`
	Keys        []string           `json:"keys"`
}

// List returns the effective circulation policy.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	eff, err := h.svc.Effective(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	overrides, err := h.svc.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if overrides == nil {
		overrides = []*entity.Setting{}
	}
	utilities.WriteJSON(w, http.StatusOK, PolicyResponse{Circulation: eff, Overrides: overrides, Keys: Keys()})
}

type PutRequest struct {
	Value   string `json:"value" validate:"required,max=64"`
	Version int64  `json:"version" validate:"min=0"`
}

func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	var req PutRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, err := h.svc.Put(r.Context(), r.PathValue("key"), req.Value, req.Version, p.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), r.PathValue("key")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownKey), errors.Is(err, ErrInvalidValue):
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		utilities.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrVersionConflict):
		utilities.WriteError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Errorw("settings request failed", "error", err)
		utilities.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
