package config

import (
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_YAML(t *testing.T) {
	fsys := fstest.MapFS{
		"procharness.cfg.yaml": {Data: []byte(`
name: orders
database: ":memory:"
history_level: audit
ids: sequence
job_executor:
  enabled: true
  interval: 250ms
`)},
	}

	cfg, err := Load(fsys, DefaultResource)
	require.NoError(t, err)

	assert.Equal(t, "orders", cfg.Name)
	assert.Equal(t, ":memory:", cfg.Database)
	assert.Equal(t, HistoryAudit, cfg.HistoryLevel)
	assert.Equal(t, "sequence", cfg.IDs)
	assert.True(t, cfg.JobExecutor.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.JobExecutor.Interval.Std())
	assert.Equal(t, DefaultResource, cfg.Resource)
}

func TestLoad_Defaults(t *testing.T) {
	fsys := fstest.MapFS{"empty.cfg.yaml": {Data: []byte("{}\n")}}

	cfg, err := Load(fsys, "empty.cfg.yaml")
	require.NoError(t, err)

	assert.Equal(t, "empty.cfg.yaml", cfg.Name)
	assert.Equal(t, ":memory:", cfg.Database)
	assert.Equal(t, HistoryFull, cfg.HistoryLevel)
	assert.Equal(t, "uuid", cfg.IDs)
	assert.False(t, cfg.JobExecutor.Enabled)
}

func TestLoad_JobExecutorDefaultInterval(t *testing.T) {
	fsys := fstest.MapFS{"a.cfg.yaml": {Data: []byte("job_executor:\n  enabled: true\n")}}

	cfg, err := Load(fsys, "a.cfg.yaml")
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.JobExecutor.Interval.Std())
}

func TestLoad_CUE(t *testing.T) {
	fsys := fstest.MapFS{
		"engine.cfg.cue": {Data: []byte(`
name:          "cue-engine"
history_level: "activity"
job_executor: {
	enabled:  true
	interval: "2s"
}
`)},
	}

	cfg, err := Load(fsys, "engine.cfg.cue")
	require.NoError(t, err)

	assert.Equal(t, "cue-engine", cfg.Name)
	assert.Equal(t, HistoryActivity, cfg.HistoryLevel)
	assert.Equal(t, 2*time.Second, cfg.JobExecutor.Interval.Std())
}

func TestLoad_XML(t *testing.T) {
	fsys := fstest.MapFS{
		"legacy.cfg.xml": {Data: []byte(`<?xml version="1.0"?>
<engine name="legacy">
  <database>:memory:</database>
  <historyLevel>none</historyLevel>
  <jobExecutor enabled="true" interval="3s"/>
</engine>`)},
	}

	cfg, err := Load(fsys, "legacy.cfg.xml")
	require.NoError(t, err)

	assert.Equal(t, "legacy", cfg.Name)
	assert.Equal(t, HistoryNone, cfg.HistoryLevel)
	assert.True(t, cfg.JobExecutor.Enabled)
	assert.Equal(t, 3*time.Second, cfg.JobExecutor.Interval.Std())
}

func TestLoad_ISODurations(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
		want time.Duration
	}{
		{"yaml", "a.cfg.yaml", "job_executor:\n  enabled: true\n  interval: PT2S\n", 2 * time.Second},
		{"xml", "a.cfg.xml", `<engine><jobExecutor enabled="true" interval="PT1M30S"/></engine>`, 90 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := fstest.MapFS{tt.file: {Data: []byte(tt.data)}}
			cfg, err := Load(fsys, tt.file)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.JobExecutor.Interval.Std())
		})
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(fstest.MapFS{}, "primary.cfg.yaml")
	require.Error(t, err)

	assert.True(t, IsNotFound(err))
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "primary.cfg.yaml", nf.Resource)
}

func TestLoad_InvalidIsNotNotFound(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{"unknown field", "a.cfg.yaml", "colour: blue\n"},
		{"bad history level", "a.cfg.yaml", "history_level: verbose\n"},
		{"bad id generator", "a.cfg.yaml", "ids: random\n"},
		{"bad duration", "a.cfg.yaml", "job_executor:\n  interval: soon\n"},
		{"malformed xml", "a.cfg.xml", "<engine"},
		{"unsupported extension", "a.cfg.toml", "name = 'x'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := fstest.MapFS{tt.file: {Data: []byte(tt.data)}}
			_, err := Load(fsys, tt.file)
			require.Error(t, err)
			assert.False(t, IsNotFound(err), "parse failures must not look like a missing resource")
		})
	}
}

func TestConfig_HistoryAtLeast(t *testing.T) {
	cfg := &Config{HistoryLevel: HistoryAudit}

	assert.True(t, cfg.HistoryAtLeast(HistoryNone))
	assert.True(t, cfg.HistoryAtLeast(HistoryActivity))
	assert.True(t, cfg.HistoryAtLeast(HistoryAudit))
	assert.False(t, cfg.HistoryAtLeast(HistoryFull))
}
