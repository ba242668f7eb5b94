package gatewayhttp

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/bedrock-gateway/internal/telemetry"
)

func TestStatusLabelBucketsByRange(t *testing.T) {
	assert.Equal(t, "2xx", statusLabel(http.StatusOK))
	assert.Equal(t, "4xx", statusLabel(http.StatusBadRequest))
	assert.Equal(t, "5xx", statusLabel(http.StatusInternalServerError))
}

func TestRequestLoggingStampsRequestIDAndPreservesStatus(t *testing.T) {
	s := &Server{Telemetry: telemetry.Noop()}

	var sawID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawID = requestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.requestLogging(inner).ServeHTTP(rec, req)

	assert.NotEmpty(t, sawID)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRequestLoggingHonorsIncomingRequestID(t *testing.T) {
	s := &Server{Telemetry: telemetry.Noop()}

	var sawID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawID = requestIDFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-Id", "fixed-id")
	s.requestLogging(inner).ServeHTTP(rec, req)

	require.Equal(t, "fixed-id", sawID)
}

func TestStatusRecorderCapturesWrittenStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}
	sr.WriteHeader(http.StatusAccepted)

	assert.Equal(t, http.StatusAccepted, sr.status)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
