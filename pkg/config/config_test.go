package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`EpcTools: {}`))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.EpcTools.SynchronizationObjects.NumberSemaphores)
	assert.Equal(t, 32, cfg.EpcTools.SynchronizationObjects.NumberMutexes)
	assert.False(t, cfg.EpcTools.EnablePublicObjects)
}

func TestParseFullDocument(t *testing.T) {
	doc := `
EpcTools:
  EnablePublicObjects: true
  SynchronizationObjects:
    NumberSemaphores: 8
    NumberMutexes: 4
  PublicQueue:
    - QueueID: "mme-inbox"
      MessageSize: 64
      QueueSize: 1000
      AllowMultipleReaders: false
      AllowMultipleWriters: true
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.True(t, cfg.EpcTools.EnablePublicObjects)
	assert.Equal(t, 8, cfg.EpcTools.SynchronizationObjects.NumberSemaphores)
	require.Len(t, cfg.EpcTools.PublicQueue, 1)
	assert.Equal(t, "mme-inbox", cfg.EpcTools.PublicQueue[0].QueueID)
	assert.True(t, cfg.EpcTools.PublicQueue[0].AllowMultipleWriters)
}

func TestValidateRejectsDuplicateQueueIDs(t *testing.T) {
	doc := `
EpcTools:
  PublicQueue:
    - QueueID: "a"
      QueueSize: 10
    - QueueID: "a"
      QueueSize: 10
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestValidateRejectsMissingQueueID(t *testing.T) {
	doc := `
EpcTools:
  PublicQueue:
    - QueueSize: 10
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestValidateRejectsNonPositiveQueueSize(t *testing.T) {
	doc := `
EpcTools:
  PublicQueue:
    - QueueID: "a"
      QueueSize: 0
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestParseDefaultsTimersAndDNS(t *testing.T) {
	cfg, err := Parse([]byte(`EpcTools: {}`))
	require.NoError(t, err)
	assert.Equal(t, int64(5), cfg.EpcTools.Timers.ResolutionMS)
	assert.Equal(t, "up", cfg.EpcTools.Timers.Rounding)
	assert.Equal(t, int64(60000), cfg.EpcTools.DNS.RefreshIntervalMS)
	assert.Equal(t, 80, cfg.EpcTools.DNS.RefreshPercent)
	assert.Equal(t, 10, cfg.EpcTools.DNS.MaxConcurrentRefresh)
	assert.Empty(t, cfg.EpcTools.DNS.NamedServers)
}

func TestParseDNSAndCoordinator(t *testing.T) {
	doc := `
EpcTools:
  DNS:
    NamedServers:
      - Address: "10.0.0.1"
        Port: 53
    RefreshIntervalMS: 30000
    RefreshPercent: 75
    Coordinator:
      Enabled: true
      NodeID: "mme-a"
      BindAddr: "127.0.0.1:7000"
      DataDir: "/tmp/refreshcoord"
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, cfg.EpcTools.DNS.NamedServers, 1)
	assert.Equal(t, "10.0.0.1", cfg.EpcTools.DNS.NamedServers[0].Address)
	assert.Equal(t, int64(30000), cfg.EpcTools.DNS.RefreshIntervalMS)
	assert.True(t, cfg.EpcTools.DNS.Coordinator.Enabled)
	assert.Equal(t, "mme-a", cfg.EpcTools.DNS.Coordinator.NodeID)
}

func TestValidateRejectsBadRounding(t *testing.T) {
	doc := `
EpcTools:
  Timers:
    Rounding: "sideways"
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestValidateRejectsIncompleteCoordinator(t *testing.T) {
	doc := `
EpcTools:
  DNS:
    Coordinator:
      Enabled: true
      NodeID: "mme-a"
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestValidateRejectsNamedServerMissingAddress(t *testing.T) {
	doc := `
EpcTools:
  DNS:
    NamedServers:
      - Port: 53
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}
