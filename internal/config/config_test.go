package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesDurationsAndNumbers(t *testing.T) {
	path := writeConfig(t, `
app:
  env: dev
  log_level: debug
  db_path: /tmp/test.db
exchange:
  name: binance
  api_key: k
  api_secret: s
  http_timeout: 20s
reconcile:
  interval: 45s
  trade_retries: 5
  trade_retry_delay: 500ms
  price_tolerance_pct: 0.2
lease:
  ttl: 15s
health:
  stage1_profit_pct: 3.5
  stage1_ratio: 0.25
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.App.Env)
	assert.Equal(t, 20*time.Second, cfg.Exchange.HTTPTimeout)
	assert.Equal(t, 45*time.Second, cfg.Reconcile.Interval)
	assert.Equal(t, 5, cfg.Reconcile.TradeRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconcile.TradeRetryDelay)
	assert.Equal(t, 0.2, cfg.Reconcile.PriceTolerancePct)
	assert.Equal(t, 15*time.Second, cfg.Lease.TTL)
	assert.Equal(t, 3.5, cfg.Health.Stage1ProfitPct)
	assert.Equal(t, 0.25, cfg.Health.Stage1Ratio)
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
exchange:
  api_key: k
  api_secret: s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, ":9992", cfg.App.HTTPAddr)
	assert.Equal(t, "binance", cfg.Exchange.Name)
	assert.Equal(t, 30*time.Second, cfg.Reconcile.Interval)
	assert.Equal(t, 100, cfg.Reconcile.TradeSearchLimit)
	assert.Equal(t, 3, cfg.Reconcile.TradeRetries)
	assert.Equal(t, 0.1, cfg.Reconcile.PriceTolerancePct)
	assert.Equal(t, 5*time.Second, cfg.Reconcile.WindowSlack)
	assert.Equal(t, 24*time.Hour, cfg.Reconcile.ExhaustiveWindow)
	assert.Equal(t, 30*time.Second, cfg.Lease.TTL)
	assert.Equal(t, 60*time.Second, cfg.Lease.RecencyWindow)
	assert.Equal(t, 0.5, cfg.Health.Stage1Ratio)
}

func TestLoadRejectsOutOfRangeTunables(t *testing.T) {
	_, err := Load(writeConfig(t, "reconcile:\n  price_tolerance_pct: 5.0\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "reconcile:\n  trade_retries: 50\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "lease:\n  ttl: 1s\n"))
	require.Error(t, err)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	_, err = Load("")
	require.Error(t, err)
}

func TestDumpExcludesSecret(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
exchange:
  api_key: visible-key
  api_secret: super-secret
`))
	require.NoError(t, err)
	out := cfg.Dump()
	assert.Contains(t, out, "visible-key")
	assert.NotContains(t, out, "super-secret")
}
