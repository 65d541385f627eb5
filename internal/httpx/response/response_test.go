package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-social/internal/apperr"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{"validation", fmt.Errorf("%w: message is empty", apperr.ErrValidation), http.StatusBadRequest, "message is empty"},
		{"unauthenticated", fmt.Errorf("%w: token expired", apperr.ErrUnauthenticated), http.StatusUnauthorized, "token expired"},
		{"forbidden", fmt.Errorf("%w: not a participant", apperr.ErrForbidden), http.StatusForbidden, "not a participant"},
		{"not found", fmt.Errorf("%w: message not found", apperr.ErrNotFound), http.StatusNotFound, "message not found"},
		{"persistence", apperr.Persistence("inserting message", errors.New("connection reset")), http.StatusInternalServerError, "failed to send message"},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, "failed to send message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			FromError(rec, tt.err, "failed to send message")

			assert.Equal(t, tt.code, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.message, body["error"])
		})
	}
}
