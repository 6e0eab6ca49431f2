package ledger

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/utilities"
)

// Handler exposes the borrowing endpoints for the authenticated user.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type BorrowRequest struct {
	BookID string `json:"book_id" validate:"required"`
	Notes  string `json:"notes" validate:"max=1000"`
}

type BulkBorrowRequest struct {
	BookIDs []string `json:"book_ids" validate:"required,min=1,max=10,dive,required"`
	Notes   string   `json:"notes" validate:"max=1000"`
}

type ReturnRequest struct {
	ConditionNotes string `json:"condition_notes" validate:"max=1000"`
}

type BulkReturnRequest struct {
	RecordIDs      []string `json:"record_ids" validate:"required,min=1,max=10,dive,required"`
	ConditionNotes string   `json:"condition_notes" validate:"max=1000"`
}

func (h *Handler) Borrow(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	var req BorrowRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.svc.Borrow(r.Context(), p.UserID, req.BookID, req.Notes)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusCreated, rec)
}

func (h *Handler) BulkBorrow(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	var req BulkBorrowRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.svc.BorrowMany(r.Context(), p.UserID, req.BookIDs, req.Notes)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusCreated, recs)
}

func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	var req ReturnRequest
	if r.ContentLength != 0 {
		if err := utilities.DecodeJSON(r, &req); err != nil {
			utilities.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	rec, err := h.svc.Return(r.Context(), r.PathValue("id"), p.UserID, req.ConditionNotes)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) BulkReturn(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	var req BulkReturnRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := h.svc.ReturnMany(r.Context(), p.UserID, req.RecordIDs, req.ConditionNotes)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, recs)
}

func (h *Handler) Renew(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	rec, err := h.svc.Renew(r.Context(), r.PathValue("id"), p.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	recs, err := h.svc.CurrentBorrowed(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, recs)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	limit, offset := utilities.Pagination(r, 20, 100)
	recs, err := h.svc.History(r.Context(), p.UserID, limit, offset)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, recs)
}

func (h *Handler) Overdue(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	recs, err := h.svc.Overdue(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, recs)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrBookNotFound), errors.Is(err, ErrUserNotFound):
		utilities.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrDuplicateBorrow):
		utilities.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrLimitExceeded), errors.Is(err, ErrMaxRenewals), errors.Is(err, ErrOverdue),
		errors.Is(err, ErrInvalidTransition):
		utilities.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Errorw("borrowing request failed", "error", err)
		utilities.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
