package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_New(t *testing.T) {
	m := New()
	assert.NotNil(t, m.EventsTotal)
	assert.NotNil(t, m.ActionsTotal)
	assert.NotNil(t, m.ActionDuration)
	assert.NotNil(t, m.PendingSessions)
	assert.NotNil(t, m.ErrorsTotal)
}

func TestMetrics_RecordAction(t *testing.T) {
	m := New()
	m.RecordAction("add_notes", "ok", 0.2)
	m.RecordAction("add_notes", "ok", 0.3)
	m.RecordAction("update_status", "not_found", 0.1)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `ideabot_actions_total{action="add_notes",outcome="ok"} 2`)
	assert.Contains(t, body, `ideabot_actions_total{action="update_status",outcome="not_found"} 1`)
	assert.Contains(t, body, "ideabot_action_duration_seconds")
}

func TestMetrics_Calls(t *testing.T) {
	m := New()
	m.RecordOracleCall("extract_intent", nil)
	m.RecordOracleCall("extract_intent", errors.New("boom"))
	m.RecordStoreCall("query", nil)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `ideabot_oracle_calls_total{op="extract_intent",result="ok"} 1`)
	assert.Contains(t, body, `ideabot_oracle_calls_total{op="extract_intent",result="error"} 1`)
	assert.Contains(t, body, `ideabot_store_calls_total{op="query",result="ok"} 1`)
}

func TestMetrics_EventsAndErrors(t *testing.T) {
	m := New()
	m.RecordEvent("telegram", "voice")
	m.RecordError("notion", "rate_limit")

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `ideabot_events_total{kind="voice",source="telegram"} 1`)
	assert.Contains(t, body, `ideabot_errors_total{module="notion",type="rate_limit"} 1`)
}

func TestMetrics_PendingSessions(t *testing.T) {
	m := New()
	m.SetPendingSessions(3)
	assert.Contains(t, getMetricsBody(t, m), "ideabot_pending_sessions 3")
}

func getMetricsBody(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	return strings.TrimSpace(string(body))
}
