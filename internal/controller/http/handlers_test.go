package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	account "github.com/vadim/neo-social/internal/domain/account/entity"
	follow "github.com/vadim/neo-social/internal/domain/follow/entity"
	notification "github.com/vadim/neo-social/internal/domain/notification/entity"
	"github.com/vadim/neo-social/internal/domain/notification/service"
	"github.com/vadim/neo-social/internal/storage"
)

type fakeNotifications struct {
	views  []notification.View
	unread int
}

func (f *fakeNotifications) List(context.Context, service.ListInput) ([]notification.View, error) {
	return f.views, nil
}

func (f *fakeNotifications) UnreadCount(context.Context, account.Identity) (int, error) {
	return f.unread, nil
}

func (f *fakeNotifications) MarkRead(_ context.Context, _ account.Identity, id string) error {
	if id == "someone-elses" {
		return notification.ErrNotOwner
	}
	return nil
}

func (f *fakeNotifications) MarkAllRead(context.Context, account.Identity) (int64, error) {
	return int64(f.unread), nil
}

func TestNotificationHandler(t *testing.T) {
	svc := &fakeNotifications{
		views:  []notification.View{{Notification: notification.Notification{ID: "n1", Type: notification.TypeMessage}}},
		unread: 4,
	}
	h := NewNotificationHandler(svc)

	rec := serve(t, h.RegisterRoutes, http.MethodGet, "/notifications/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["total"])

	rec = serve(t, h.RegisterRoutes, http.MethodGet, "/notifications/unread-count", "")
	assert.Equal(t, float64(4), decodeBody(t, rec)["count"])

	assert.Equal(t, http.StatusNoContent, serve(t, h.RegisterRoutes, http.MethodPost, "/notifications/n1/read", "").Code)
	assert.Equal(t, http.StatusForbidden, serve(t, h.RegisterRoutes, http.MethodPost, "/notifications/someone-elses/read", "").Code)

	rec = serve(t, h.RegisterRoutes, http.MethodPost, "/notifications/read-all", "")
	assert.Equal(t, float64(4), decodeBody(t, rec)["updated"])
}

type fakeFollows struct{}

func (fakeFollows) Follow(_ context.Context, _ account.Identity, targetID string) (follow.Status, error) {
	if targetID == "private" {
		return follow.StatusPending, nil
	}
	return "", follow.ErrUserNotFound
}

func (fakeFollows) Unfollow(context.Context, account.Identity, string) error { return nil }

func (fakeFollows) Accept(_ context.Context, _ account.Identity, requesterID string) error {
	if requesterID == "stranger" {
		return follow.ErrRequestNotFound
	}
	return nil
}

func (fakeFollows) Decline(context.Context, account.Identity, string) error { return nil }

func TestFollowHandler(t *testing.T) {
	h := NewFollowHandler(fakeFollows{})

	rec := serve(t, h.RegisterRoutes, http.MethodPost, "/users/private/follow", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", decodeBody(t, rec)["status"])

	assert.Equal(t, http.StatusNotFound, serve(t, h.RegisterRoutes, http.MethodPost, "/users/ghost/follow", "").Code)

	rec = serve(t, h.RegisterRoutes, http.MethodDelete, "/users/private/follow", "")
	assert.Equal(t, "none", decodeBody(t, rec)["status"])

	rec = serve(t, h.RegisterRoutes, http.MethodPost, "/follow-requests/bob/accept", "")
	assert.Equal(t, "accepted", decodeBody(t, rec)["status"])
	assert.Equal(t, http.StatusNotFound, serve(t, h.RegisterRoutes, http.MethodPost, "/follow-requests/stranger/accept", "").Code)

	rec = serve(t, h.RegisterRoutes, http.MethodPost, "/follow-requests/bob/decline", "")
	assert.Equal(t, "none", decodeBody(t, rec)["status"])
}

type fakeUsers map[string]account.User

func (f fakeUsers) GetByID(_ context.Context, id string) (*account.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

type fakePresence map[string]bool

func (f fakePresence) Online(_ context.Context, userID string) (bool, error) {
	return f[userID], nil
}

func TestUserHandler(t *testing.T) {
	users := fakeUsers{
		"bob":   {ID: "bob", Username: "bob", IsActive: true},
		"ghost": {ID: "ghost", Username: "ghost"},
	}
	h := NewUserHandler(users, fakePresence{"bob": true})

	rec := serve(t, h.RegisterRoutes, http.MethodGet, "/users/bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "bob", body["username"])
	assert.Equal(t, true, body["online"])

	assert.Equal(t, http.StatusNotFound, serve(t, h.RegisterRoutes, http.MethodGet, "/users/ghost", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, h.RegisterRoutes, http.MethodGet, "/users/nobody", "").Code)
}

type fakeUploader struct {
	got storage.UploadInput
	err error
}

func (f *fakeUploader) Upload(_ context.Context, in storage.UploadInput) (*storage.UploadOutput, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	data, _ := io.ReadAll(in.Reader)
	return &storage.UploadOutput{Key: "dm/alice/x.png", URL: "http://cdn/dm/alice/x.png", Size: int64(len(data))}, nil
}

func multipartBody(t *testing.T, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="clip"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestMediaHandler_Upload(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name        string
		contentType string
		uploadErr   error
		wantCode    int
		wantType    string
	}{
		{"image", "image/png", nil, http.StatusCreated, "image"},
		{"voice note", "audio/ogg; codecs=opus", nil, http.StatusCreated, "voice"},
		{"video", "video/mp4", nil, http.StatusCreated, "video"},
		{"unsupported", "application/pdf", nil, http.StatusBadRequest, ""},
		{"storage failure", "image/jpeg", errors.New("s3 down"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUploader{err: tt.uploadErr}
			h := NewMediaHandler(up, logger)

			body, ct := multipartBody(t, tt.contentType, []byte("payload"))
			req := httptest.NewRequest(http.MethodPost, "/media/upload", body)
			req.Header.Set("Content-Type", ct)
			req = req.WithContext(authContext(req.Context()))

			rec := httptest.NewRecorder()
			h.Upload().ServeHTTP(rec, req)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			if tt.wantType == "" {
				return
			}
			out := decodeBody(t, rec)
			assert.Equal(t, tt.wantType, out["message_type"])
			assert.Equal(t, float64(len("payload")), out["size"])
			assert.Equal(t, "alice", up.got.OwnerID)
			assert.Equal(t, "clip", up.got.Filename)
		})
	}
}
