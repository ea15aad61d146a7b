package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"loan-risk/internal/loan"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(labels ...loan.Label) []loan.PredictionRecord {
	out := make([]loan.PredictionRecord, len(labels))
	for i, l := range labels {
		out[i] = loan.PredictionRecord{ID: string(rune('a' + i)), Label: l}
	}
	return out
}

func TestSummarize(t *testing.T) {
	testCases := []struct {
		name   string
		labels []loan.Label
		want   loan.Summary
	}{
		{"empty history", nil, loan.Summary{}},
		{"mixed", []loan.Label{0, 1, 0}, loan.Summary{Safe: 2, Danger: 1, Total: 3}},
		{"all danger", []loan.Label{1, 1}, loan.Summary{Danger: 2, Total: 2}},
		{"all safe", []loan.Label{0, 0, 0, 0}, loan.Summary{Safe: 4, Total: 4}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Summarize(records(tc.labels...))
			assert.Equal(t, tc.want, got)
			assert.Equal(t, got.Total, got.Safe+got.Danger)
		})
	}
}

func TestSummarize_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(Summarize(records(0, 1, 0)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"safe_count":2,"danger_count":1,"total_count":3}`, string(data))
}

func TestRender(t *testing.T) {
	recs := []loan.PredictionRecord{{
		ID:          "r1",
		CreatedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Numeric:     map[string]float64{"income": 5000},
		Categorical: map[string]string{"education": "<script>alert(1)</script>"},
		Label:       loan.LabelDanger,
	}}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, PageData{
		Columns: []string{"income", "education"},
		Records: recs,
		Summary: Summarize(recs),
	}))

	html := buf.String()
	assert.Contains(t, html, "<td>5000</td>")
	assert.Contains(t, html, "Rejected")
	assert.Contains(t, html, `id="total" class="large-metric">1<`)
	assert.NotContains(t, html, "<script>alert(1)</script>")
}

func TestRender_EmptyHistory(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, PageData{Columns: []string{"income"}}))
	assert.Contains(t, buf.String(), "No predictions yet")
}

func TestHub_SnapshotThenUpdates(t *testing.T) {
	hub := NewHub(func(context.Context) (loan.Summary, error) {
		return loan.Summary{Safe: 2, Danger: 1, Total: 3}, nil
	})
	require.NoError(t, hub.Start())
	defer hub.Stop()
	assert.Error(t, hub.Start())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first Update
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, loan.Summary{Safe: 2, Danger: 1, Total: 3}, first.Summary)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	latest := loan.PredictionRecord{ID: "r4", Label: loan.LabelDanger}
	hub.Publish(Update{Summary: loan.Summary{Safe: 2, Danger: 2, Total: 4}, Latest: &latest})

	var next Update
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, 4, next.Summary.Total)
	require.NotNil(t, next.Latest)
	assert.Equal(t, "r4", next.Latest.ID)
	assert.False(t, next.Timestamp.IsZero())
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub(nil)
	var gauge atomic.Int64
	hub.OnClientsChanged(func(n int) { gauge.Store(int64(n)) })
	require.NoError(t, hub.Start())
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return gauge.Load() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return gauge.Load() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_RejectsCrossOriginClients(t *testing.T) {
	hub := NewHub(nil)
	require.NoError(t, hub.Start())
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, hub.Clients())

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {srv.URL}})
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
}
