package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 50000, c.EDA.MaxRowsFull)
	assert.Equal(t, 10000, c.EDA.SampleSize)
	assert.Equal(t, int64(42), c.EDA.Seed)
	assert.Equal(t, 20, c.EDA.HistogramBins)
	assert.Equal(t, 300, c.EDA.TimeLimitSec)
	assert.Equal(t, 0.2, c.Training.TestSize)
	assert.Equal(t, 100, c.Explainer.BackgroundSize)
	assert.Equal(t, 200, c.Explainer.ExplainSize)
	assert.Equal(t, 30, c.AITimeoutSec)
	assert.Equal(t, "memory", c.Storage.Backend)
	assert.Equal(t, filepath.Join(c.DataDir, "artifacts"), c.Artifacts.Dir)
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	body := "eda:\n  sample_size: 500\nstorage:\n  backend: postgres\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("TABFORGE_EDA_HISTOGRAM_BINS", "12")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, c.EDA.SampleSize)
	assert.Equal(t, 12, c.EDA.HistogramBins)
	assert.Equal(t, "postgres", c.Storage.Backend)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "out.yaml")
	c := Default()
	c.AIModel = "custom/model"
	c.Worker.Concurrency = 7
	require.NoError(t, Save(c, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom/model", loaded.AIModel)
	assert.Equal(t, 7, loaded.Worker.Concurrency)
}

func TestPostgresDSN(t *testing.T) {
	p := Postgres{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "d", SSLMode: "disable", Timezone: "UTC"}
	assert.Equal(t, "host=db user=u password=p dbname=d port=5432 sslmode=disable TimeZone=UTC", p.DSN())
}
