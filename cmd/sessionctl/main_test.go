package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"backend-bravely/internal/checkpoint"
	"backend-bravely/internal/config"
	"backend-bravely/internal/tracking"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func useStore(t *testing.T, store tracking.CheckpointStore) {
	t.Helper()
	old := openStore
	openStore = func(context.Context, config.Config) (tracking.CheckpointStore, func(), error) {
		return store, func() {}, nil
	}
	t.Cleanup(func() { openStore = old })
}

func freezeNow(t *testing.T, at time.Time) {
	t.Helper()
	old := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = old })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(viper.New(), &out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func storedSession() tracking.SessionSnapshot {
	return tracking.SessionSnapshot{
		ID:          "abc",
		SessionType: "walk",
		StartedAt:   t0,
		State:       tracking.StateActive,
		Route: []tracking.RoutePoint{
			{Lat: 40, Lng: -74, AccuracyMeters: 5, CapturedAt: t0.Add(time.Minute)},
		},
		LastAcceptedAt: t0.Add(time.Minute),
	}
}

func TestInspectEmpty(t *testing.T) {
	useStore(t, checkpoint.NewMemoryStore(nil))
	out, err := run(t, "inspect")
	require.NoError(t, err)
	require.Contains(t, out, "no checkpoint")
}

func TestInspectReportsVerdict(t *testing.T) {
	store := checkpoint.NewMemoryStore(nil)
	require.NoError(t, store.Save(context.Background(), storedSession()))
	useStore(t, store)

	freezeNow(t, t0.Add(11*time.Minute))
	out, err := run(t, "inspect", "-o", "json")
	require.NoError(t, err)

	var r checkpointReport
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	require.Equal(t, "abc", r.SessionID)
	require.Equal(t, 1, r.Points)
	require.Equal(t, "resumable", r.Verdict)
	require.True(t, r.Backgrounded)
	require.Equal(t, "10m0s", r.Gap)
	require.Equal(t, "00:11:00", r.Elapsed)

	freezeNow(t, t0.Add(48*time.Hour))
	out, err = run(t, "inspect")
	require.NoError(t, err)
	require.Contains(t, out, "verdict: stale_discard")
}

func TestInspectUnknownFormat(t *testing.T) {
	store := checkpoint.NewMemoryStore(nil)
	require.NoError(t, store.Save(context.Background(), storedSession()))
	useStore(t, store)

	_, err := run(t, "inspect", "-o", "xml")
	require.Error(t, err)
}

func TestDiscard(t *testing.T) {
	store := checkpoint.NewMemoryStore(nil)
	require.NoError(t, store.Save(context.Background(), storedSession()))
	useStore(t, store)

	out, err := run(t, "discard")
	require.NoError(t, err)
	require.Contains(t, out, "discarded session abc")
	require.Nil(t, store.Raw())

	out, err = run(t, "discard")
	require.NoError(t, err)
	require.Contains(t, out, "checkpoint cleared")
}

func TestDiscardCorrupt(t *testing.T) {
	store := checkpoint.NewMemoryStore(nil)
	store.SetRaw([]byte("{broken"))
	useStore(t, store)

	out, err := run(t, "discard")
	require.NoError(t, err)
	require.Contains(t, out, "warning")
	require.Nil(t, store.Raw())
}

const replayYAML = `session_type: walk
fixes:
  - {lat: 40, lng: -74, accuracy_m: 5, captured_at: 2024-05-01T09:00:00Z}
  - {lat: 40.00009, lng: -74, accuracy_m: 8, captured_at: 2024-05-01T09:00:05Z}
  - {lat: 40, lng: -74, accuracy_m: 40, captured_at: 2024-05-01T09:00:06Z}
  - {lat: 40.000092, lng: -74, accuracy_m: 8, captured_at: 2024-05-01T09:00:07Z}
  - {lat: 40.01, lng: -74, accuracy_m: 5, captured_at: 2024-05-01T09:10:00Z}
`

func TestReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(replayYAML), 0o644))

	out, err := run(t, "replay", path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	require.Contains(t, lines[0], "accepted")
	require.Contains(t, lines[1], "accepted")
	require.Contains(t, lines[2], "low_accuracy")
	require.Contains(t, lines[3], "insufficient_movement")
	require.Contains(t, lines[4], "reanchored")
	require.Contains(t, lines[5], "points 3")
	require.Contains(t, lines[5], "distance 10.0m")
	require.Contains(t, lines[5], "elapsed 00:10:00")
}

func TestReplayBadFile(t *testing.T) {
	_, err := run(t, "replay", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fixes: [:"), 0o644))
	_, err = run(t, "replay", path)
	require.Error(t, err)
}

func TestFlagsBindToConfig(t *testing.T) {
	v := viper.New()
	cmd := newRootCmd(v, &bytes.Buffer{})
	require.NoError(t, cmd.PersistentFlags().Set("backend", "file"))
	require.NoError(t, cmd.PersistentFlags().Set("dir", "/tmp/x"))

	cfg := config.LoadWith(v)
	require.Equal(t, "file", cfg.CheckpointBackend)
	require.Equal(t, "/tmp/x", cfg.CheckpointDir)
}
