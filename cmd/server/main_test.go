package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-simulator/internal/config"
	"clinical-simulator/internal/session"
)

func TestServeClosesSessionStoreOnError(t *testing.T) {
	badgerPath := filepath.Join(t.TempDir(), "sessions")
	cfg := &config.Config{
		Port:               "-1",
		LLMProvider:        config.ProviderMock,
		DataDir:            t.TempDir(),
		CasesBackend:       config.BackendJSON,
		SessionBackend:     config.BackendBadger,
		BadgerPath:         badgerPath,
		SessionTTL:         time.Hour,
		ScoreDefault:       75,
		EfficiencyBaseline: 10,
		EfficiencyPenalty:  5,
	}

	err := serve(context.Background(), cfg)
	require.ErrorContains(t, err, "server error")

	// badger holds a directory lock until closed
	reopened, err := session.NewBadgerStore(badgerPath, time.Hour)
	require.NoError(t, err)
	assert.NoError(t, reopened.Close())
}

func TestRunReturnsConfigError(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "bogus")

	err := run()

	assert.ErrorContains(t, err, "invalid configuration")
}
