package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/garyjia/trip-approval/internal/application/lock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder()

	r.IncTransition("request", "NEW", "APPROVED")
	r.IncTransition("request", "NEW", "APPROVED")
	r.IncTransition("expense", "NEW", "REJECTED")
	r.IncNotificationFailure("decision")
	r.IncUploadFailure()
	r.IncLockTimeout(lock.ScopeGlobal)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.transitions.WithLabelValues("request", "NEW", "APPROVED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("expense", "NEW", "REJECTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.notificationFailures.WithLabelValues("decision")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.uploadFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.lockTimeouts.WithLabelValues(lock.ScopeGlobal)))
}

func TestRecorder_LockWait(t *testing.T) {
	r := NewRecorder()
	r.ObserveLockWait(lock.ScopeRecord, 20*time.Millisecond)
	r.ObserveLockWait(lock.ScopeRecord, 2*time.Second)

	assert.Equal(t, 1, testutil.CollectAndCount(r.lockWait))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.IncTransition("request", "NEW", "REJECTED")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `trip_approval_state_transitions_total{from="NEW",kind="request",to="REJECTED"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
