package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"backend-bravely/internal/checkpoint"
	"backend-bravely/internal/config"
	"backend-bravely/internal/tracking"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// replayFile is a recorded fix stream.
type replayFile struct {
	SessionType string      `yaml:"session_type"`
	Fixes       []replayFix `yaml:"fixes"`
}

type replayFix struct {
	Lat        float64   `yaml:"lat"`
	Lng        float64   `yaml:"lng"`
	AccuracyM  float64   `yaml:"accuracy_m"`
	CapturedAt time.Time `yaml:"captured_at"`
}

func loadReplay(path string) (replayFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return replayFile{}, fmt.Errorf("read replay file: %w", err)
	}
	var rf replayFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return replayFile{}, fmt.Errorf("parse replay file: %w", err)
	}
	if rf.SessionType == "" {
		rf.SessionType = "replay"
	}
	return rf, nil
}

// replayClock follows the capture time of the fix being replayed.
type replayClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *replayClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *replayClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newReplayCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "replay FILE",
		Short: "Run a recorded fix stream through the movement filter",
		Long: "Replays fixes from a YAML file through an in-memory engine using the " +
			"configured filter thresholds. The stored checkpoint is not touched.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rf, err := loadReplay(args[0])
			if err != nil {
				return err
			}
			cfg := config.LoadWith(v)
			return replay(cmd.Context(), cmd, cfg.Engine(), rf)
		},
	}
}

func replay(ctx context.Context, cmd *cobra.Command, settings tracking.Settings, rf replayFile) error {
	out := cmd.OutOrStdout()
	clock := &replayClock{}
	if len(rf.Fixes) > 0 {
		clock.set(rf.Fixes[0].CapturedAt)
	}

	engine := tracking.NewEngine(checkpoint.NewMemoryStore(nil), settings, tracking.WithClock(clock.now))
	if _, err := engine.Recover(ctx); err != nil {
		return err
	}
	if _, err := engine.Start(ctx, tracking.StartOptions{SessionType: rf.SessionType}); err != nil {
		return err
	}

	for i, f := range rf.Fixes {
		clock.set(f.CapturedAt)
		res, err := engine.Ingest(ctx, tracking.GeoFix{
			Lat:            f.Lat,
			Lng:            f.Lng,
			AccuracyMeters: f.AccuracyM,
			CapturedAt:     f.CapturedAt,
		})
		if err != nil {
			return fmt.Errorf("fix %d: %w", i, err)
		}
		outcome := "accepted"
		switch {
		case !res.Accepted:
			outcome = string(res.Reason)
		case res.Reanchored:
			outcome = "reanchored"
		}
		fmt.Fprintf(out, "%3d  %-22s +%7.1fm  total %8.1fm\n", i, outcome, res.DistanceMeters, res.TotalDistanceMeters)
	}

	summary, _ := engine.Summary()
	fmt.Fprintf(out, "points %d  distance %.1fm (%.2f mi)  elapsed %s\n",
		summary.PointCount, summary.DistanceM, summary.DistanceMiles,
		tracking.FormatElapsed(time.Duration(summary.DurationSec)*time.Second))
	return nil
}
