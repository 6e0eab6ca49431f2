package catalog

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-library-go/internal/catalog/entity"
	"github.com/ovaphlow/pitchfork/service-library-go/pkg/utilities"
)

// Handler exposes the book and category endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type CreateBookRequest struct {
	ISBN            string `json:"isbn" validate:"required"`
	Title           string `json:"title" validate:"required,max=500"`
	Author          string `json:"author" validate:"required,max=300"`
	CategoryID      *int64 `json:"category_id"`
	Publisher       string `json:"publisher"`
	PublicationYear *int   `json:"publication_year" validate:"omitempty,min=1000,max=2100"`
	Description     string `json:"description"`
	Location        string `json:"location"`
	TotalCopies     int    `json:"total_copies" validate:"min=1"`
	AvailableCopies int    `json:"available_copies" validate:"min=0"`
}

type UpdateBookRequest struct {
	Title           *string `json:"title" validate:"omitempty,max=500"`
	Author          *string `json:"author" validate:"omitempty,max=300"`
	CategoryID      *int64  `json:"category_id"`
	Publisher       *string `json:"publisher"`
	PublicationYear *int    `json:"publication_year" validate:"omitempty,min=1000,max=2100"`
	Description     *string `json:"description"`
	Location        *string `json:"location"`
	TotalCopies     *int    `json:"total_copies" validate:"omitempty,min=1"`
	AvailableCopies *int    `json:"available_copies" validate:"omitempty,min=0"`
}

type CreateCategoryRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
	ParentID    *int64 `json:"parent_id"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := utilities.Pagination(r, 20, 100)
	f := Filter{
		Query:         strings.TrimSpace(q.Get("q")),
		Title:         strings.TrimSpace(q.Get("title")),
		Author:        strings.TrimSpace(q.Get("author")),
		ISBN:          strings.TrimSpace(q.Get("isbn")),
		AvailableOnly: q.Get("available_only") == "true",
		Limit:         limit,
		Offset:        offset,
	}
	if v := q.Get("category"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			utilities.WriteError(w, http.StatusBadRequest, "invalid category")
			return
		}
		f.CategoryID = &id
	}
	books, err := h.svc.Search(r.Context(), f)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, books)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetBook(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Statistics(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) Popular(w http.ResponseWriter, r *http.Request) {
	limit, _ := utilities.Pagination(r, 10, 100)
	books, err := h.svc.Popular(r.Context(), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, books)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		h.logger.Debugw("invalid book payload", "err", err)
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := h.svc.CreateBook(r.Context(), &entity.Book{
		ISBN:            req.ISBN,
		Title:           req.Title,
		Author:          req.Author,
		CategoryID:      req.CategoryID,
		Publisher:       req.Publisher,
		PublicationYear: req.PublicationYear,
		Description:     req.Description,
		Location:        req.Location,
		TotalCopies:     req.TotalCopies,
		AvailableCopies: req.AvailableCopies,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusCreated, b)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateBookRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := h.svc.UpdateBook(r.Context(), r.PathValue("id"), BookUpdate(req))
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, b)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeactivateBook(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.svc.Categories(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusOK, cats)
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if err := utilities.DecodeJSON(r, &req); err != nil {
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := h.svc.CreateCategory(r.Context(), &entity.Category{
		Name:        req.Name,
		Description: req.Description,
		ParentID:    req.ParentID,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	utilities.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		utilities.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidISBN), errors.Is(err, ErrInvalidInput):
		utilities.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicateISBN), errors.Is(err, ErrDuplicateName):
		utilities.WriteError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Errorw("catalog request failed", "error", err)
		utilities.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
