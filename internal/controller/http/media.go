package http

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/neo-social/internal/domain/direct/entity"
	"github.com/vadim/neo-social/internal/httpx/response"
	"github.com/vadim/neo-social/internal/storage"
)

// MaxUploadSize is the maximum allowed upload size (50MB)
const MaxUploadSize = 50 << 20

// MediaUploader defines the interface for uploading media
type MediaUploader interface {
	Upload(ctx context.Context, in storage.UploadInput) (*storage.UploadOutput, error)
}

// MediaHandler handles media upload HTTP requests
type MediaHandler struct {
	uploader MediaUploader
	logger   *slog.Logger
}

// NewMediaHandler creates a new media handler
func NewMediaHandler(uploader MediaUploader, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{uploader: uploader, logger: logger}
}

// RegisterRoutes registers media routes
func (h *MediaHandler) RegisterRoutes(r chi.Router) {
	r.Post("/media/upload", h.Upload())
}

// UploadResponse represents the response from upload endpoint.
// MessageType is the type to send the media_url with.
type UploadResponse struct {
	URL         string             `json:"url"`
	Key         string             `json:"key"`
	Size        int64              `json:"size"`
	MessageType entity.MessageType `json:"message_type"`
}

// Upload handles POST /media/upload
func (h *MediaHandler) Upload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
		if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
			response.BadRequest(w, "file too large or invalid multipart form")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			response.BadRequest(w, "missing file in request")
			return
		}
		defer file.Close()

		contentType := header.Header.Get("Content-Type")
		msgType, ok := messageTypeFor(contentType)
		if !ok {
			response.BadRequest(w, fmt.Sprintf("unsupported media type: %s", contentType))
			return
		}

		result, err := h.uploader.Upload(r.Context(), storage.UploadInput{
			OwnerID:     identity.UserID,
			Reader:      file,
			ContentType: contentType,
			Size:        header.Size,
			Filename:    header.Filename,
		})
		if err != nil {
			h.logger.Error("failed to upload media", "user_id", identity.UserID, "error", err)
			response.InternalError(w, "failed to upload file")
			return
		}

		response.Created(w, UploadResponse{
			URL:         result.URL,
			Key:         result.Key,
			Size:        result.Size,
			MessageType: msgType,
		})
	}
}

var allowedMediaTypes = map[string]entity.MessageType{
	"image/jpeg":      entity.MessageTypeImage,
	"image/png":       entity.MessageTypeImage,
	"image/gif":       entity.MessageTypeImage,
	"image/webp":      entity.MessageTypeImage,
	"video/mp4":       entity.MessageTypeVideo,
	"video/quicktime": entity.MessageTypeVideo,
	"audio/mpeg":      entity.MessageTypeVoice,
	"audio/ogg":       entity.MessageTypeVoice,
	"audio/webm":      entity.MessageTypeVoice,
	"audio/mp4":       entity.MessageTypeVoice,
	"audio/wav":       entity.MessageTypeVoice,
	"audio/x-wav":     entity.MessageTypeVoice,
}

// messageTypeFor maps an allowed upload content type to its message type
func messageTypeFor(contentType string) (entity.MessageType, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", false
	}
	t, ok := allowedMediaTypes[strings.ToLower(mediaType)]
	return t, ok
}
