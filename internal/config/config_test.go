package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harvester.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
db:
  dsn: postgres://localhost/harvester
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.EqualValues(t, 100, cfg.API.MaxResults)
	require.Equal(t, 5, cfg.API.Retries)
	require.Equal(t, 200*time.Millisecond, cfg.BackoffBase())
	require.Equal(t, 10*time.Minute, cfg.GlobalBackoff())
	require.Equal(t, 4, cfg.Harvest.Concurrency)
	require.Equal(t, "2018-08-14", cfg.Harvest.CutoffDate)
	require.True(t, cfg.Server.Enabled)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 30*time.Minute, cfg.MaxConnLifetime())
	require.Equal(t, time.Second, cfg.ForumDelay())

	cutoff, err := cfg.CutoffDate()
	require.NoError(t, err)
	require.Equal(t, time.Date(2018, 8, 14, 0, 0, 0, 0, time.UTC), cutoff)
}

func TestLoadReadsChannels(t *testing.T) {
	path := writeConfig(t, `
db:
  dsn: postgres://localhost/harvester
channels:
  mainchannel:
    handle: MainChannel
    channel_id: UC123
    tags: [news]
    whole_channel: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Channels, 1)

	src := cfg.Channels["mainchannel"]
	require.Equal(t, "UC123", src.ChannelID)
	require.True(t, src.WholeChannel)
	require.Equal(t, []string{"news"}, src.Tags)
}

func TestValidateRequiresDSN(t *testing.T) {
	path := writeConfig(t, `
harvest:
  concurrency: 2
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "db.dsn is required")
}

func TestValidateRejectsBadMaxResults(t *testing.T) {
	path := writeConfig(t, `
db:
  dsn: postgres://localhost/harvester
api:
  max_results: 500
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "max_results")
}

func TestValidateRejectsBadCutoffDate(t *testing.T) {
	path := writeConfig(t, `
db:
  dsn: postgres://localhost/harvester
harvest:
  cutoff_date: not-a-date
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "cutoff_date")
}

func TestValidateRejectsChannelWithoutID(t *testing.T) {
	path := writeConfig(t, `
db:
  dsn: postgres://localhost/harvester
channels:
  broken:
    handle: Broken
`)

	_, err := Load(path)
	require.ErrorContains(t, err, "missing channel_id")
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
