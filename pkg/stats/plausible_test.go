package stats

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/platinummonkey/docmeter/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlausible(t *testing.T, handler http.HandlerFunc) *PlausibleClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewPlausibleClient(config.AnalyticsConfig{
		APIKey:  "plausible-key",
		SiteID:  "docmeter.io",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	})
	c.now = func() time.Time { return time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC) }
	return c
}

func TestPlausible_DailyPageViews(t *testing.T) {
	c := newTestPlausible(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer plausible-key", r.Header.Get("Authorization"))
		assert.Equal(t, "/v1/stats/aggregate", r.URL.Path)
		assert.Equal(t, "docmeter.io", r.URL.Query().Get("site_id"))
		assert.Equal(t, "pageviews", r.URL.Query().Get("metrics"))

		switch r.URL.Query().Get("date") {
		case "":
			w.Write([]byte(`{"results":{"pageviews":{"value":5000}}}`))
		case "2024-03-09":
			w.Write([]byte(`{"results":{"pageviews":{"value":150}}}`))
		case "2024-03-08":
			w.Write([]byte(`{"results":{"pageviews":{"value":120}}}`))
		default:
			t.Errorf("unexpected date %q", r.URL.Query().Get("date"))
		}
	})

	views, err := c.DailyPageViews(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5000, views.TotalViews)
	assert.Equal(t, "25", views.PrevDayViewsChangePercent)
}

func TestPlausible_HTTPError(t *testing.T) {
	c := newTestPlausible(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.DailyPageViews(context.Background())
	assert.EqualError(t, err, "HTTP error! Status: 401")
}

func TestPlausible_Sources(t *testing.T) {
	c := newTestPlausible(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/stats/breakdown", r.URL.Path)
		assert.Equal(t, "visit:source", r.URL.Query().Get("property"))
		assert.Equal(t, "visitors", r.URL.Query().Get("metrics"))
		w.Write([]byte(`{"results":[{"source":"Google","visitors":31},{"source":"Twitter","visitors":"7"}]}`))
	})

	sources, err := c.Sources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Source{{Name: "Google", Visitors: 31}, {Name: "Twitter", Visitors: 7}}, sources)
}

func TestPlausible_SourcesBadCount(t *testing.T) {
	c := newTestPlausible(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"source":"Google","visitors":"many"}]}`))
	})

	_, err := c.Sources(context.Background())
	assert.Error(t, err)
}

func TestChangePercent(t *testing.T) {
	tests := []struct {
		current, previous int
		want              string
	}{
		{150, 120, "25"},
		{100, 200, "-50"},
		{0, 200, "0"},
		{200, 0, "0"},
		{101, 300, "-66"},
		{2, 3, "-33"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, changePercent(tt.current, tt.previous), "%d vs %d", tt.current, tt.previous)
	}
}
