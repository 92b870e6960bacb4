package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/platinummonkey/docmeter/pkg/config"
	"github.com/platinummonkey/docmeter/pkg/observability"
	"golang.org/x/sync/errgroup"
)

// PlausibleClient reads page views from the Plausible stats API
type PlausibleClient struct {
	baseURL    string
	siteID     string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

// NewPlausibleClient creates a new PlausibleClient
func NewPlausibleClient(cfg config.AnalyticsConfig) *PlausibleClient {
	return &PlausibleClient{
		baseURL: cfg.BaseURL,
		siteID:  cfg.SiteID,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: observability.InstrumentedTransport(http.DefaultTransport),
		},
		now: time.Now,
	}
}

type aggregateResponse struct {
	Results struct {
		Pageviews struct {
			Value int `json:"value"`
		} `json:"pageviews"`
	} `json:"results"`
}

type breakdownResponse struct {
	Results []struct {
		Source   string    `json:"source"`
		Visitors flexCount `json:"visitors"`
	} `json:"results"`
}

// flexCount accepts a count encoded as a JSON number or a numeric string
type flexCount int

func (c *flexCount) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		v, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return fmt.Errorf("invalid count %s: %w", data, err)
		}
		*c = flexCount(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid count %s", data)
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid count %q: %w", s, err)
	}
	*c = flexCount(v)
	return nil
}

func (p *PlausibleClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	query.Set("site_id", p.siteID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build analytics request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("analytics request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("HTTP error! Status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode analytics response: %w", err)
	}
	return nil
}

func (p *PlausibleClient) pageviews(ctx context.Context, query url.Values) (int, error) {
	query.Set("metrics", "pageviews")
	var resp aggregateResponse
	if err := p.get(ctx, "/v1/stats/aggregate", query, &resp); err != nil {
		return 0, err
	}
	return resp.Results.Pageviews.Value, nil
}

// DailyPageViews returns total page views and the change from the day
// before yesterday to yesterday, rounded to a whole percent
func (p *PlausibleClient) DailyPageViews(ctx context.Context) (PageViews, error) {
	now := p.now().UTC()
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")
	dayBefore := now.AddDate(0, 0, -2).Format("2006-01-02")

	var total, viewsYesterday, viewsDayBefore int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		total, err = p.pageviews(gctx, url.Values{})
		return err
	})
	g.Go(func() (err error) {
		viewsYesterday, err = p.pageviews(gctx, url.Values{"period": {"day"}, "date": {yesterday}})
		return err
	})
	g.Go(func() (err error) {
		viewsDayBefore, err = p.pageviews(gctx, url.Values{"period": {"day"}, "date": {dayBefore}})
		return err
	})
	if err := g.Wait(); err != nil {
		return PageViews{}, err
	}

	return PageViews{
		TotalViews:                total,
		PrevDayViewsChangePercent: changePercent(viewsYesterday, viewsDayBefore),
	}, nil
}

// changePercent is "0" when either day has no views
func changePercent(current, previous int) string {
	if current == 0 || previous == 0 {
		return "0"
	}
	change := float64(current-previous) / float64(previous) * 100
	return strconv.FormatFloat(math.Round(change), 'f', 0, 64)
}

// Sources returns visitors per referrer
func (p *PlausibleClient) Sources(ctx context.Context) ([]Source, error) {
	var resp breakdownResponse
	query := url.Values{"property": {"visit:source"}, "metrics": {"visitors"}}
	if err := p.get(ctx, "/v1/stats/breakdown", query, &resp); err != nil {
		return nil, err
	}

	sources := make([]Source, 0, len(resp.Results))
	for _, r := range resp.Results {
		sources = append(sources, Source{Name: r.Source, Visitors: int(r.Visitors)})
	}
	return sources, nil
}
