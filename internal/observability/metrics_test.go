package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordAndServe(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordNotification("DELETE", "suppressed")
	m.RecordNotification("DELETE", "suppressed")
	m.RecordDelete("single", "rolled_back")
	m.SetFeedConnected(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FeedNotificationsTotal.WithLabelValues("DELETE", "suppressed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OptimisticDeletesTotal.WithLabelValues("single", "rolled_back")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedConnected))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "quotegallery_feed_notifications_total"))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.RecordNotification("INSERT", "applied")
	m.RecordDelete("bulk", "committed")
	m.SetFeedConnected(false)
	m.SetPendingMutations(3)
	m.ObserveHTTP("GET", "/v1/quotes", "200", 0.1)
	m.AddFeedSubscribers(1)
	m.RecordPublished("INSERT")
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("debug", "json", &buf)
	require.NoError(t, err)

	logger.WithField("owner", "u_1").Debug("subscribed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "subscribed", entry["msg"])
	assert.Equal(t, "u_1", entry["owner"])
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger("loud", "text", nil)
	assert.Error(t, err)
}
