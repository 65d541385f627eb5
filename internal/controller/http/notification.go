package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	account "github.com/vadim/neo-social/internal/domain/account/entity"
	"github.com/vadim/neo-social/internal/domain/notification/entity"
	"github.com/vadim/neo-social/internal/domain/notification/service"
	"github.com/vadim/neo-social/internal/httpx/response"
)

// NotificationService defines the interface for notification operations
type NotificationService interface {
	List(ctx context.Context, in service.ListInput) ([]entity.View, error)
	UnreadCount(ctx context.Context, identity account.Identity) (int, error)
	MarkRead(ctx context.Context, identity account.Identity, id string) error
	MarkAllRead(ctx context.Context, identity account.Identity) (int64, error)
}

// NotificationHandler handles HTTP requests for notifications
type NotificationHandler struct {
	svc NotificationService
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(svc NotificationService) *NotificationHandler {
	return &NotificationHandler{svc: svc}
}

// RegisterRoutes registers notification routes
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.List())
		r.Get("/unread-count", h.UnreadCount())
		r.Post("/read-all", h.MarkAllRead())
		r.Post("/{notificationId}/read", h.MarkRead())
	})
}

// List handles GET /notifications
func (h *NotificationHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		list, err := h.svc.List(r.Context(), service.ListInput{
			Identity: identity,
			Limit:    parseLimit(r, 50, 100),
		})
		if err != nil {
			response.FromError(w, err, "failed to list notifications")
			return
		}

		response.OK(w, map[string]any{
			"notifications": list,
			"total":         len(list),
		})
	}
}

// UnreadCount handles GET /notifications/unread-count
func (h *NotificationHandler) UnreadCount() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		count, err := h.svc.UnreadCount(r.Context(), identity)
		if err != nil {
			response.FromError(w, err, "failed to count notifications")
			return
		}

		response.OK(w, map[string]int{"count": count})
	}
}

// MarkRead handles POST /notifications/{notificationId}/read
func (h *NotificationHandler) MarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		if err := h.svc.MarkRead(r.Context(), identity, chi.URLParam(r, "notificationId")); err != nil {
			response.FromError(w, err, "failed to mark notification read")
			return
		}

		response.NoContent(w)
	}
}

// MarkAllRead handles POST /notifications/read-all
func (h *NotificationHandler) MarkAllRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		n, err := h.svc.MarkAllRead(r.Context(), identity)
		if err != nil {
			response.FromError(w, err, "failed to mark notifications read")
			return
		}

		response.OK(w, map[string]int64{"updated": n})
	}
}
