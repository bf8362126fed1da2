package booking

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/MithilHassan/kbt-express/internal/platform/httpx"
	"github.com/MithilHassan/kbt-express/internal/shared"
	"github.com/MithilHassan/kbt-express/internal/status"
)

// DocumentFile is a rendered booking document.
type DocumentFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// DocumentRenderer produces the printable document of a booking.
type DocumentRenderer interface {
	RenderDocument(ctx context.Context, id uuid.UUID) (DocumentFile, error)
}

// DocumentQueue schedules background renders.
type DocumentQueue interface {
	EnqueueDocument(ctx context.Context, id uuid.UUID) (string, error)
}

// HandlerOptions wires optional collaborators of Handler.
type HandlerOptions struct {
	Documents DocumentRenderer
	Queue     DocumentQueue
	// Operator guards every non-public route.
	Operator func(http.Handler) http.Handler
	// PublicRateLimit is the per-IP request budget per minute for intake and
	// tracking. Zero disables the dedicated limit.
	PublicRateLimit int
}

// Handler exposes the booking HTTP API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	documents DocumentRenderer
	queue     DocumentQueue
	operator  func(http.Handler) http.Handler
	rateLimit int
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, opts HandlerOptions) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	operator := opts.Operator
	if operator == nil {
		operator = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{
		logger:    logger,
		service:   service,
		documents: opts.Documents,
		queue:     opts.Queue,
		operator:  operator,
		rateLimit: opts.PublicRateLimit,
	}
}

// MountRoutes registers the public and operator routes.
func (h *Handler) MountRoutes(r chi.Router) {
	// Public
	r.Group(func(r chi.Router) {
		if h.rateLimit > 0 {
			r.Use(httprate.LimitByIP(h.rateLimit, time.Minute))
		}
		r.Post("/bookings", h.create)
		r.Get("/track/{bookingNumber}", h.track)
	})

	// Operator
	r.Group(func(r chi.Router) {
		r.Use(h.operator)
		r.Get("/bookings", h.list)
		r.Get("/bookings/stats", h.stats)
		r.Get("/bookings/export.csv", h.export)
		r.Post("/bookings/status", h.bulkStatus)
		r.Get("/bookings/{id}", h.get)
		r.Put("/bookings/{id}", h.update)
		r.Delete("/bookings/{id}", h.delete)
		r.Patch("/bookings/{id}/status", h.updateStatus)
		r.Get("/bookings/{id}/history", h.history)
		r.Get("/bookings/{id}/document", h.document)
		r.Post("/bookings/{id}/document", h.enqueueDocument)
	})
}

type validationProblem struct {
	httpx.ProblemDetail
	Errors []FieldError `json:"errors"`
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		httpx.WriteProblem(w, http.StatusBadRequest, validationProblem{
			ProblemDetail: httpx.ProblemDetail{
				Type:   "about:blank",
				Title:  "Validation Failed",
				Status: http.StatusBadRequest,
				Detail: verr.Error(),
			},
			Errors: verr.Fields,
		})
		return
	}
	if !errors.Is(err, httpx.ErrValidation) && !errors.Is(err, httpx.ErrNotFound) && !errors.Is(err, httpx.ErrDuplicate) {
		h.logger.Error("booking request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, ErrInvalidID
	}
	return id, nil
}

func actor(r *http.Request) string {
	return shared.ActorFromContext(r.Context())
}

// ============================================================================
// PUBLIC
// ============================================================================

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req BookingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	result, err := h.service.Create(r.Context(), req, actor(r), r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) track(w http.ResponseWriter, r *http.Request) {
	tracking, err := h.service.Track(r.Context(), chi.URLParam(r, "bookingNumber"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tracking)
}

// ============================================================================
// OPERATOR
// ============================================================================

func listFilter(r *http.Request) (ListFilter, error) {
	q := r.URL.Query()
	f := ListFilter{Search: q.Get("search")}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	if raw := q.Get("status"); raw != "" && raw != "all" {
		s, err := status.Parse(raw)
		if err != nil {
			return ListFilter{}, err
		}
		f.Status = &s
	}
	return f, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	items, page, err := h.service.List(r.Context(), f)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if items == nil {
		items = []Booking{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items, "pagination": page})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := h.service.Export(r.Context(), f, &buf); err != nil {
		h.respondError(w, r, err)
		return
	}
	name := "bookings-" + time.Now().UTC().Format("20060102") + ".csv"
	httpx.Attachment(w, "text/csv; charset=utf-8", name, buf.Bytes())
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req BookingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	b, err := h.service.Update(r.Context(), id, req, actor(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, b)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), id, actor(r)); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	status.Result
	Warnings []string `json:"warnings,omitempty"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req StatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	res, err := h.service.UpdateStatus(r.Context(), id, req, actor(r))
	if err != nil {
		if errors.Is(err, status.ErrBookingNotFound) {
			err = ErrNotFound
		}
		h.respondError(w, r, err)
		return
	}
	out := statusResponse{Result: res}
	if res.HistoryErr != nil {
		out.Warnings = []string{WarnHistoryNotSaved}
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) bulkStatus(w http.ResponseWriter, r *http.Request) {
	var req BulkStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	res, err := h.service.BulkUpdateStatus(r.Context(), req, actor(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) document(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if h.documents == nil {
		h.respondError(w, r, httpx.ErrUnavailable)
		return
	}
	doc, err := h.documents.RenderDocument(r.Context(), id)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			h.logger.Info("document request abandoned", slog.String("booking_id", id.String()))
			return
		}
		h.respondError(w, r, err)
		return
	}
	httpx.Attachment(w, doc.ContentType, doc.Name, doc.Data)
}

func (h *Handler) enqueueDocument(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if h.queue == nil {
		h.respondError(w, r, httpx.ErrUnavailable)
		return
	}
	if _, err := h.service.Get(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	taskID, err := h.queue.EnqueueDocument(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "booking_id": id.String()})
}
