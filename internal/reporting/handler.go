package reporting

import (
	"errors"
	"net/http"
	"strconv"
	"time"

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

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	d, err := h.svc.UserDashboard(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) AdminDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.AdminDashboard(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) Popular(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	limit := queryInt(r, "limit", 20)
	rep, err := h.svc.PopularReport(r.Context(), days, limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, rep)
}

func (h *Handler) Inventory(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.InventoryReport(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, rep)
}

func (h *Handler) Overdue(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.OverdueReport(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, rep)
}

func (h *Handler) Trending(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.TrendReport(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, rep)
}

// Daily lists stored snapshots. from and to default to the last seven days.
func (h *Handler) Daily(w http.ResponseWriter, r *http.Request) {
	now := h.svc.Clock()
	to, err := queryDate(r, "to", now)
	if err != nil {
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := queryDate(r, "from", to.AddDate(0, 0, -6))
	if err != nil {
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.svc.DailyReport(r.Context(), from, to)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, rows)
}

// GenerateDaily recomputes the snapshot for ?date (default today).
func (h *Handler) GenerateDaily(w http.ResponseWriter, r *http.Request) {
	date, err := queryDate(r, "date", h.svc.Clock())
	if err != nil {
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := h.svc.GenerateDailyAnalytics(r.Context(), date)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, d)
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return v
	}
	return def
}

func queryDate(r *http.Request, key string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, errors.New(key + " must be YYYY-MM-DD")
	}
	return t, nil
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUserNotFound):
		utilities.WriteError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Errorw("report request failed", "error", err)
		utilities.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
