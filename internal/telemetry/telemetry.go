// Package telemetry supplies the latest consumption observation per
// building. The production source is a Kafka feed that keeps a TTL-bounded
// cache of the most recent message per building; a static source backs tests
// and demo runs.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/segmentio/kafka-go"

	"github.com/gridmind/gridmind/internal/model"
)

// ErrNoObservation is returned when no sufficiently recent observation
// exists for a building.
var ErrNoObservation = errors.New("no recent observation for building")

// Source yields the most recent observation for a building.
type Source interface {
	Latest(ctx context.Context, buildingID string) (model.Observation, error)
}

// Config groups the Kafka settings for the observation feed.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
	// MaxAge bounds how stale a cached observation may be. Zero selects
	// 10 minutes.
	MaxAge time.Duration
}

// Feed consumes observation messages and caches the latest per building.
type Feed struct {
	reader *kafka.Reader
	cache  *ttlcache.Cache[string, model.Observation]
	log    *slog.Logger
	wg     sync.WaitGroup
}

// NewFeed validates the config and builds the feed. Consumption starts with
// Start.
func NewFeed(cfg Config, lg *slog.Logger) (*Feed, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("observation topic must not be empty")
	}
	if lg == nil {
		lg = slog.Default()
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, model.Observation](maxAge),
		ttlcache.WithDisableTouchOnHit[string, model.Observation](),
	)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &Feed{reader: reader, cache: cache, log: lg}, nil
}

// Start launches the consume loop. It returns immediately; the loop stops
// when ctx is cancelled.
func (f *Feed) Start(ctx context.Context) {
	go f.cache.Start()
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.run(ctx)
	}()
}

func (f *Feed) run(ctx context.Context) {
	for {
		msg, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			f.log.Warn("observation_read_failed", "error", err)
			continue
		}
		var obs model.Observation
		if err := json.Unmarshal(msg.Value, &obs); err != nil {
			f.log.Warn("observation_malformed", "offset", msg.Offset, "error", err)
			continue
		}
		if obs.BuildingID == "" {
			f.log.Warn("observation_missing_building", "offset", msg.Offset)
			continue
		}
		f.ingest(obs)
	}
}

// ingest keeps only the newest observation per building. Out-of-order
// messages never roll the cache backwards.
func (f *Feed) ingest(obs model.Observation) {
	if item := f.cache.Get(obs.BuildingID); item != nil && item.Value().Timestamp.After(obs.Timestamp) {
		return
	}
	f.cache.Set(obs.BuildingID, obs, ttlcache.DefaultTTL)
}

// Latest returns the cached observation for a building.
func (f *Feed) Latest(_ context.Context, buildingID string) (model.Observation, error) {
	item := f.cache.Get(buildingID)
	if item == nil {
		return model.Observation{}, fmt.Errorf("%w: %s", ErrNoObservation, buildingID)
	}
	return item.Value(), nil
}

// Close stops the consumer and waits for the loop to exit. Cancel the Start
// context first.
func (f *Feed) Close() error {
	err := f.reader.Close()
	f.wg.Wait()
	f.cache.Stop()
	return err
}

// Static is a mutable in-memory source for tests and demo runs.
type Static struct {
	mu           sync.RWMutex
	observations map[string]model.Observation
}

// NewStatic builds a static source preloaded with the given observations.
func NewStatic(observations ...model.Observation) *Static {
	s := &Static{observations: make(map[string]model.Observation, len(observations))}
	for _, o := range observations {
		s.observations[o.BuildingID] = o
	}
	return s
}

// Set replaces the observation for a building.
func (s *Static) Set(obs model.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations[obs.BuildingID] = obs
}

func (s *Static) Latest(_ context.Context, buildingID string) (model.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obs, ok := s.observations[buildingID]
	if !ok {
		return model.Observation{}, fmt.Errorf("%w: %s", ErrNoObservation, buildingID)
	}
	return obs, nil
}
