package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverCounters(t *testing.T) {
	m := New()

	m.AdminSeeded()
	m.PasswordChangeAttempt("success")
	m.PasswordChangeAttempt("success")
	m.PasswordChangeAttempt("incorrect_password")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdminSeededTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PasswordChangesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PasswordChangesTotal.WithLabelValues("incorrect_password")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.PasswordChangeAttempt("success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `userhub_password_changes_total{outcome="success"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestNewUsesIsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.PasswordChangeAttempt("success")
	a.PasswordChangeAttempt("empty_password")

	n, err := testutil.GatherAndCount(a.Registry(), "userhub_password_changes_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = testutil.GatherAndCount(b.Registry(), "userhub_password_changes_total")
	require.NoError(t, err)
	assert.Zero(t, n)
}
