package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	account "github.com/vadim/neo-social/internal/domain/account/entity"
	"github.com/vadim/neo-social/internal/httpx/response"
)

// UserReader defines the interface for loading user accounts
type UserReader interface {
	GetByID(ctx context.Context, id string) (*account.User, error)
}

// PresenceReader reports whether a user has a live connection
type PresenceReader interface {
	Online(ctx context.Context, userID string) (bool, error)
}

// UserHandler handles HTTP requests for public user cards
type UserHandler struct {
	users    UserReader
	presence PresenceReader
}

// NewUserHandler creates a new user handler
func NewUserHandler(users UserReader, presence PresenceReader) *UserHandler {
	return &UserHandler{users: users, presence: presence}
}

// RegisterRoutes registers user routes
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Get("/users/{userId}", h.Get())
}

// Get handles GET /users/{userId}
func (h *UserHandler) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireIdentity(w, r); !ok {
			return
		}
		id := chi.URLParam(r, "userId")

		user, err := h.users.GetByID(r.Context(), id)
		if err != nil {
			response.InternalError(w, "failed to get user")
			return
		}
		if user == nil || !user.IsActive {
			response.NotFound(w, "user not found")
			return
		}

		summary := user.Summary()
		if summary.Online, err = h.presence.Online(r.Context(), id); err != nil {
			response.InternalError(w, "failed to get user")
			return
		}

		response.OK(w, summary)
	}
}
