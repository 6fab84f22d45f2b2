package knowledge

import (
	"context"
	"fmt"
	"log/slog"
)

// EnsureDefaultCollections creates the three pipeline collections with the
// given embedding width. Safe to call on every startup.
func EnsureDefaultCollections(ctx context.Context, s Store, dims int) error {
	for _, name := range []string{CollectionPatterns, CollectionSolutions, CollectionInsights} {
		if err := s.EnsureCollection(ctx, name, dims); err != nil {
			return fmt.Errorf("ensure collection %s: %w", name, err)
		}
	}
	return nil
}

// Seed inserts a small set of well-known patterns and solutions so a fresh
// deployment has something to match against before it accumulates its own
// history.
func Seed(ctx context.Context, s Store, emb Embedder, lg *slog.Logger) error {
	patterns := []map[string]any{
		{
			"description":   "High afternoon cooling load in glass-facade building",
			"building_type": "office",
			"severity":      "high",
			"common_causes": []string{"solar gain", "poor insulation", "undersized HVAC"},
		},
		{
			"description":   "Excessive nighttime consumption in residential tower",
			"building_type": "residential",
			"severity":      "medium",
			"common_causes": []string{"HVAC scheduling issue", "phantom loads", "inefficient lighting"},
		},
		{
			"description":   "Morning pre-cooling inefficiency",
			"building_type": "office",
			"severity":      "medium",
			"common_causes": []string{"wrong pre-cool timing", "insufficient capacity", "poor control logic"},
		},
	}
	for _, p := range patterns {
		vec, err := emb.Embed(ctx, p["description"].(string))
		if err != nil {
			return fmt.Errorf("embed pattern: %w", err)
		}
		if _, err := s.Put(ctx, CollectionPatterns, p, vec); err != nil {
			return fmt.Errorf("seed pattern: %w", err)
		}
	}

	solutions := []map[string]any{
		{
			"problem":       "High solar gain on west facade",
			"solution":      "Automated blind control with pre-cooling optimization",
			"building_id":   "marina-tower-2",
			"effectiveness": 0.89,
		},
		{
			"problem":       "HVAC running during low occupancy",
			"solution":      "Occupancy-based scheduling with 30-minute ramp-up",
			"building_id":   "jlt-tower-5",
			"effectiveness": 0.76,
		},
	}
	for _, sol := range solutions {
		vec, err := emb.Embed(ctx, sol["problem"].(string))
		if err != nil {
			return fmt.Errorf("embed solution: %w", err)
		}
		if _, err := s.Put(ctx, CollectionSolutions, sol, vec); err != nil {
			return fmt.Errorf("seed solution: %w", err)
		}
	}

	lg.Info("knowledge store seeded", "patterns", len(patterns), "solutions", len(solutions))
	return nil
}
