package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"backend-bravely/internal/config"
	"backend-bravely/internal/tracking"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var now = time.Now

// checkpointReport is what inspect prints about a stored session.
type checkpointReport struct {
	SessionID      string    `json:"session_id" yaml:"session_id"`
	SessionType    string    `json:"session_type" yaml:"session_type"`
	State          string    `json:"state" yaml:"state"`
	StartedAt      time.Time `json:"started_at" yaml:"started_at"`
	LastAcceptedAt time.Time `json:"last_accepted_at" yaml:"last_accepted_at"`
	Points         int       `json:"points" yaml:"points"`
	DistanceM      float64   `json:"distance_m" yaml:"distance_m"`
	DistanceMiles  float64   `json:"distance_miles" yaml:"distance_miles"`
	Elapsed        string    `json:"elapsed" yaml:"elapsed"`
	Gap            string    `json:"gap" yaml:"gap"`
	WasInterrupted bool      `json:"was_interrupted" yaml:"was_interrupted"`
	Backgrounded   bool      `json:"likely_backgrounded" yaml:"likely_backgrounded"`
	Verdict        string    `json:"verdict" yaml:"verdict"`
}

func newInspectCmd(v *viper.Viper) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the stored checkpoint and what recovery would decide",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.LoadWith(v)
			store, release, err := openStore(cmd.Context(), cfg)
			defer release()
			if err != nil {
				return err
			}

			snap, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			if snap == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no checkpoint")
				return nil
			}
			return writeReport(cmd.OutOrStdout(), output, report(*snap, cfg.Engine(), now()))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml or json")
	return cmd
}

func report(snap tracking.SessionSnapshot, settings tracking.Settings, at time.Time) checkpointReport {
	summary := tracking.Summarize(snap, at)
	gap := at.Sub(snap.LastAcceptedAt)

	verdict := string(tracking.DecisionResumable)
	if gap > settings.StalenessCeiling {
		verdict = string(tracking.DecisionStaleDiscard)
	}
	return checkpointReport{
		SessionID:      snap.ID,
		SessionType:    snap.SessionType,
		State:          string(snap.State),
		StartedAt:      snap.StartedAt,
		LastAcceptedAt: snap.LastAcceptedAt,
		Points:         summary.PointCount,
		DistanceM:      summary.DistanceM,
		DistanceMiles:  summary.DistanceMiles,
		Elapsed:        tracking.FormatElapsed(at.Sub(snap.StartedAt)),
		Gap:            gap.Round(time.Second).String(),
		WasInterrupted: snap.WasInterrupted,
		Backgrounded:   gap > settings.BackgroundGap,
		Verdict:        verdict,
	}
}

func writeReport(w io.Writer, format string, r any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", format)
}
