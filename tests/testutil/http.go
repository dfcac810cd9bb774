package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erp/postingengine/internal/domain/shared"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Actor header names accepted by the API
const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderUserID    = "X-User-ID"
	HeaderActorRole = "X-Actor-Role"
)

// ActorHeaders returns the request headers that identify actor
func ActorHeaders(actor shared.Actor) map[string]string {
	headers := map[string]string{HeaderActorRole: actor.Role}
	if actor.TenantID != uuid.Nil {
		headers[HeaderTenantID] = actor.TenantID.String()
	}
	if actor.UserID != nil {
		headers[HeaderUserID] = actor.UserID.String()
	}
	return headers
}

// DoJSON sends a JSON request through engine and returns the recorder.
// A nil body sends no payload.
func DoJSON(t *testing.T, engine *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body), "Failed to marshal request body")
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

// Envelope is the decoded API response with data left raw
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Reason  string          `json:"reason"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

// DecodeEnvelope unmarshals the response envelope and, when data is non-nil,
// its data field into data
func DecodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, data any) Envelope {
	t.Helper()

	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

// RequireStatus fails the test when the recorder holds another status
func RequireStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, w.Code, "%s: %s", http.StatusText(w.Code), w.Body.String())
}
