// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.SetEnvPrefix("REPURPOSE_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func TestLoadConfigDefaults(t *testing.T) {
	resetViper(t)
	c, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 20, c.Filter.BatchSize)
	assert.Equal(t, 500*time.Millisecond, c.Extraction.InterCallDelay)
	assert.Equal(t, 60*time.Second, c.Search.Timeout)
	assert.Equal(t, "data", c.Store.DataDir)
	assert.True(t, c.Search.EnablePubMed)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	resetViper(t)
	t.Setenv("REPURPOSE_ENGINE_FILTER_BATCH_SIZE", "7")
	t.Setenv("REPURPOSE_ENGINE_EXTRACTION_INTER_CALL_DELAY", "2s")
	t.Setenv("REPURPOSE_ENGINE_SEARCH_ENABLE_OPENALEX", "false")

	c, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 7, c.Filter.BatchSize)
	assert.Equal(t, 2*time.Second, c.Extraction.InterCallDelay)
	assert.False(t, c.Search.EnableOpenAlex)
	assert.Equal(t, 3, c.Filter.MaxConcurrent)
}

func TestLoadConfigFile(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "repurpose-engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scoring:
  clinical_weight: 0.5
  evidence_weight: 0.3
  market_weight: 0.2
batch:
  max_concurrent_drugs: 4
search:
  timeout: 15s
`), 0o644))
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	c, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.5, c.Scoring.ClinicalWeight)
	assert.Equal(t, 0.85, c.Scoring.PreprintPenalty)
	assert.Equal(t, 4, c.Batch.MaxConcurrentDrugs)
	assert.Equal(t, 15*time.Second, c.Search.Timeout)
	assert.Equal(t, "repurpose-engine/0.1", c.Search.UserAgent)
}
