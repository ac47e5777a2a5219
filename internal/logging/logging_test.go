package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StooqSync/internal/config"
)

func restore(t *testing.T) {
	t.Cleanup(func() {
		log.SetOutput(os.Stdout)
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{})
	})
}

func TestSetup_JSONFile(t *testing.T) {
	restore(t)
	path := filepath.Join(t.TempDir(), "logs", "stooqsync.log")
	closer, err := Setup(config.LogConfig{Level: "debug", Format: "json", File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	log.WithField("symbol", "SPX").Debug("download date")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "SPX", entry["symbol"])
	assert.Equal(t, "download date", entry["msg"])
}

func TestSetup_BadLevelFallsBackToInfo(t *testing.T) {
	restore(t)
	_, err := Setup(config.LogConfig{Level: "loud"})
	require.NoError(t, err)
	assert.Equal(t, log.InfoLevel, log.GetLevel())
}

func TestSetup_UnknownFormat(t *testing.T) {
	restore(t)
	_, err := Setup(config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
