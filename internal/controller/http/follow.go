package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	account "github.com/vadim/neo-social/internal/domain/account/entity"
	"github.com/vadim/neo-social/internal/domain/follow/entity"
	"github.com/vadim/neo-social/internal/httpx/response"
)

// FollowService defines the interface for follow relationship operations
type FollowService interface {
	Follow(ctx context.Context, identity account.Identity, targetID string) (entity.Status, error)
	Unfollow(ctx context.Context, identity account.Identity, targetID string) error
	Accept(ctx context.Context, identity account.Identity, requesterID string) error
	Decline(ctx context.Context, identity account.Identity, requesterID string) error
}

// FollowHandler handles HTTP requests for follow relationships
type FollowHandler struct {
	svc FollowService
}

// NewFollowHandler creates a new follow handler
func NewFollowHandler(svc FollowService) *FollowHandler {
	return &FollowHandler{svc: svc}
}

// RegisterRoutes registers follow routes
func (h *FollowHandler) RegisterRoutes(r chi.Router) {
	r.Post("/users/{userId}/follow", h.Follow())
	r.Delete("/users/{userId}/follow", h.Unfollow())
	r.Post("/follow-requests/{userId}/accept", h.Accept())
	r.Post("/follow-requests/{userId}/decline", h.Decline())
}

// FollowResponse represents the relationship state after a follow call
type FollowResponse struct {
	Status entity.Status `json:"status"`
}

// Follow handles POST /users/{userId}/follow
func (h *FollowHandler) Follow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		status, err := h.svc.Follow(r.Context(), identity, chi.URLParam(r, "userId"))
		if err != nil {
			response.FromError(w, err, "failed to follow user")
			return
		}

		response.OK(w, FollowResponse{Status: status})
	}
}

// Unfollow handles DELETE /users/{userId}/follow
func (h *FollowHandler) Unfollow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		if err := h.svc.Unfollow(r.Context(), identity, chi.URLParam(r, "userId")); err != nil {
			response.FromError(w, err, "failed to unfollow user")
			return
		}

		response.OK(w, FollowResponse{Status: entity.StatusNone})
	}
}

// Accept handles POST /follow-requests/{userId}/accept
func (h *FollowHandler) Accept() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		if err := h.svc.Accept(r.Context(), identity, chi.URLParam(r, "userId")); err != nil {
			response.FromError(w, err, "failed to accept follow request")
			return
		}

		response.OK(w, FollowResponse{Status: entity.StatusAccepted})
	}
}

// Decline handles POST /follow-requests/{userId}/decline
func (h *FollowHandler) Decline() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		if err := h.svc.Decline(r.Context(), identity, chi.URLParam(r, "userId")); err != nil {
			response.FromError(w, err, "failed to decline follow request")
			return
		}

		response.OK(w, FollowResponse{Status: entity.StatusNone})
	}
}
