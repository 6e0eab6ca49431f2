package notification

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-library-go/internal/notification/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/utilities"
)

type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type PreferenceRequest struct {
	EmailEnabled       *bool   `json:"email_enabled"`
	Welcome            *bool   `json:"welcome"`
	BorrowConfirmation *bool   `json:"borrow_confirmation"`
	ReturnConfirmation *bool   `json:"return_confirmation"`
	PreDueReminder     *bool   `json:"pre_due_reminder"`
	OverdueNotice      *bool   `json:"overdue_notice"`
	CreditScoreUpdates *bool   `json:"credit_score_updates"`
	Newsletter         *bool   `json:"newsletter"`
	ReminderDaysBefore *int    `json:"reminder_days_before" validate:"omitempty,min=0,max=30"`
	QuietHoursStart    *string `json:"quiet_hours_start"`
	QuietHoursEnd      *string `json:"quiet_hours_end"`
}

func (r PreferenceRequest) apply(p *entity.Preference) {
	setBool := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	setBool(&p.EmailEnabled, r.EmailEnabled)
	setBool(&p.Welcome, r.Welcome)
	setBool(&p.BorrowConfirmation, r.BorrowConfirmation)
	setBool(&p.ReturnConfirmation, r.ReturnConfirmation)
	setBool(&p.PreDueReminder, r.PreDueReminder)
	setBool(&p.OverdueNotice, r.OverdueNotice)
	setBool(&p.CreditScoreUpdates, r.CreditScoreUpdates)
	setBool(&p.Newsletter, r.Newsletter)
	if r.ReminderDaysBefore != nil {
		p.ReminderDaysBefore = *r.ReminderDaysBefore
	}
	if r.QuietHoursStart != nil {
		p.QuietHoursStart = *r.QuietHoursStart
	}
	if r.QuietHoursEnd != nil {
		p.QuietHoursEnd = *r.QuietHoursEnd
	}
}

type EnqueueRequest struct {
	UserID       int64          `json:"user_id" validate:"required,gt=0"`
	Type         string         `json:"notification_type" validate:"required,max=50"`
	ScheduledFor *time.Time     `json:"scheduled_for"`
	Priority     string         `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	Payload      map[string]any `json:"payload"`
}

func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	pref, err := h.svc.Preferences(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, pref)
}

func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	var req PreferenceRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	pref, err := h.svc.Preferences(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	req.apply(pref)
	pref, err = h.svc.UpdatePreferences(r.Context(), pref)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, pref)
}

func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	limit, offset := utilities.Pagination(r, 20, 100)
	items, err := h.svc.Queue(r.Context(), p.UserID, limit, offset)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	priority := entity.PriorityNormal
	if req.Priority != "" {
		var err error
		if priority, err = entity.ParsePriority(req.Priority); err != nil {
			utilities.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	var at time.Time
	if req.ScheduledFor != nil {
		at = *req.ScheduledFor
	}
	it, err := h.svc.Enqueue(r.Context(), req.UserID, entity.Type(req.Type), at, priority, req.Payload)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusCreated, it)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Dispatch(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Errorw("notification request failed", "error", err)
		utilities.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
