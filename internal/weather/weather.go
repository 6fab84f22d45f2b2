// Package weather fetches forecast snapshots for building locations. Results
// are cached per location with a TTL so a burst of analyses for co-located
// buildings does not hammer the upstream service.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/gridmind/gridmind/internal/breaker"
	"github.com/gridmind/gridmind/internal/model"
)

// Provider yields the current forecast snapshot for a location.
type Provider interface {
	Forecast(ctx context.Context, location string) (model.WeatherSnapshot, error)
}

// Client is the HTTP provider with per-location TTL caching.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	brk        *breaker.Breaker
	cache      *ttlcache.Cache[string, model.WeatherSnapshot]
	log        *slog.Logger
}

// NewClient builds a weather client. A nil breaker runs unguarded. ttl <= 0
// selects 15 minutes.
func NewClient(baseURL, apiKey string, brk *breaker.Breaker, ttl time.Duration, lg *slog.Logger) *Client {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if lg == nil {
		lg = slog.Default()
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, model.WeatherSnapshot](ttl),
		ttlcache.WithDisableTouchOnHit[string, model.WeatherSnapshot](),
	)
	go cache.Start()
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		brk:        brk,
		cache:      cache,
		log:        lg,
	}
}

// Close stops the cache janitor.
func (c *Client) Close() { c.cache.Stop() }

// Forecast returns the cached snapshot when fresh, otherwise fetches one.
func (c *Client) Forecast(ctx context.Context, location string) (model.WeatherSnapshot, error) {
	if item := c.cache.Get(location); item != nil {
		return item.Value(), nil
	}

	var snap model.WeatherSnapshot
	fetch := func(ctx context.Context) error {
		var err error
		snap, err = c.fetch(ctx, location)
		return err
	}
	var err error
	if c.brk != nil {
		err = c.brk.Execute(ctx, fetch)
	} else {
		err = fetch(ctx)
	}
	if err != nil {
		return model.WeatherSnapshot{}, fmt.Errorf("forecast for %s: %w", location, err)
	}
	c.cache.Set(location, snap, ttlcache.DefaultTTL)
	return snap, nil
}

type forecastResponse struct {
	TemperatureC     float64 `json:"temperatureC"`
	HumidityPct      float64 `json:"humidityPct"`
	SolarRadiationWM float64 `json:"solarRadiationWm2"`
	Confidence       float64 `json:"confidence"`
}

func (c *Client) fetch(ctx context.Context, location string) (model.WeatherSnapshot, error) {
	endpoint := fmt.Sprintf("%s/forecast?location=%s", c.baseURL, url.QueryEscape(location))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.WeatherSnapshot{}, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.WeatherSnapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return model.WeatherSnapshot{}, fmt.Errorf("weather service status %d: %s", resp.StatusCode, string(b))
	}
	var out forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.WeatherSnapshot{}, fmt.Errorf("decode forecast: %w", err)
	}
	return model.WeatherSnapshot{
		Location:         location,
		TemperatureC:     out.TemperatureC,
		HumidityPct:      out.HumidityPct,
		SolarRadiationWM: out.SolarRadiationWM,
		Confidence:       out.Confidence,
		Timestamp:        time.Now().UTC(),
	}, nil
}

// Static always returns the same snapshot, used when no weather endpoint is
// configured.
type Static struct {
	Snapshot model.WeatherSnapshot
}

func (s Static) Forecast(_ context.Context, location string) (model.WeatherSnapshot, error) {
	snap := s.Snapshot
	snap.Location = location
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}
	return snap, nil
}
