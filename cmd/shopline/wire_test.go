package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/shopline/internal/config"
	"github.com/user/shopline/pkg/llm/canned"
	"github.com/user/shopline/pkg/llm/openai"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	return cfg
}

func TestBuildEngineWithoutCredentialsIsCanned(t *testing.T) {
	engine, err := buildEngine(testConfig(t))
	require.NoError(t, err)
	assert.IsType(t, &canned.Engine{}, engine)
}

func TestBuildEngineRequiresAssistant(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.APIKey = "sk-test"
	_, err := buildEngine(cfg)
	require.ErrorIs(t, err, openai.ErrMissingAssistant)

	cfg.LLM.AssistantID = "asst_1"
	engine, err := buildEngine(cfg)
	require.NoError(t, err)
	assert.IsType(t, &openai.Client{}, engine)
}

func TestGatewayConfigMapping(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.MaxConnections = 7
	cfg.Gateway.BreakerOpenTimeout = config.Duration(10 * time.Second)
	cfg.Gateway.TurnTimeout = config.Duration(time.Minute)

	gc := gatewayConfig(cfg)
	assert.Equal(t, 7, gc.MaxConnections)
	assert.Equal(t, 1000, gc.CacheCapacity)
	assert.Equal(t, 5*time.Minute, gc.CacheTTL)
	assert.Equal(t, 3, gc.Breaker.Threshold)
	assert.Equal(t, 10*time.Second, gc.Breaker.OpenTimeout)
	assert.Equal(t, 2, gc.Breaker.HalfOpenTrials)
	assert.Equal(t, time.Minute, gc.TurnTimeout)

	ro := runtimeOptions(cfg)
	assert.Equal(t, 60, ro.MaxPolls)
	assert.Equal(t, 5, ro.MaxToolRounds)
	assert.Equal(t, time.Second, ro.PollInterval)
}
