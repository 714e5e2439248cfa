package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"soctriage/config"
	"soctriage/core"
	"soctriage/threat"
	"soctriage/triage"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func demoConfig() *config.Config {
	cfg := config.Default()
	cfg.DemoMode = true
	return cfg
}

func liveConfig(server *threat.MockThreatIntelServer) *config.Config {
	cfg := config.Default()
	cfg.Enrichment.APIKey = threat.MockAPIKey
	cfg.Enrichment.BaseURL = server.URL()
	cfg.Enrichment.RetryBackoff = time.Millisecond
	cfg.Enrichment.LookupTimeout = 2 * time.Second
	cfg.Enrichment.BatchTimeout = 10 * time.Second
	return cfg
}

func TestNewApp_DemoMode(t *testing.T) {
	sugar := zaptest.NewLogger(t).Sugar()

	app, err := NewApp(context.Background(), demoConfig(), sugar)
	require.NoError(t, err)
	defer app.Shutdown()

	assert.IsType(t, &threat.StubClient{}, app.Enricher)

	report, err := app.Run(context.Background(), triage.DemoFindings(time.Now()))
	require.NoError(t, err)
	require.Len(t, report.Results, 3)

	assert.Equal(t, 77.4, report.Results[0].Score)
	assert.Equal(t, core.VerdictImmediateAction, report.Results[0].Verdict)
	assert.Equal(t, 57.1, report.Results[1].Score)
	assert.Equal(t, core.VerdictInvestigate, report.Results[1].Verdict)
	assert.Equal(t, 34.7, report.Results[2].Score)
	assert.Equal(t, core.VerdictMonitor, report.Results[2].Verdict)
}

func TestNewApp_LiveVirusTotal(t *testing.T) {
	server := threat.NewMockThreatIntelServer()
	defer server.Close()
	server.SetVirusTotalStats("ip:185.220.101.32", threat.VirusTotalStats{Malicious: 9, Harmless: 1})

	app, err := NewApp(context.Background(), liveConfig(server), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer app.Shutdown()

	assert.IsType(t, &threat.Client{}, app.Enricher)

	report, err := app.Run(context.Background(), triage.DemoFindings(time.Now())[:1])
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, 77.4, report.Results[0].Score)
	assert.Equal(t, triage.ScoreModeEnriched, report.Results[0].ScoreMode)

	// the second run is served from the cache
	before := server.RequestCount()
	_, err = app.Run(context.Background(), triage.DemoFindings(time.Now())[:1])
	require.NoError(t, err)
	assert.Equal(t, before, server.RequestCount())
}

func TestNewApp_LiveAbuseIPDBWithRedis(t *testing.T) {
	server := threat.NewMockThreatIntelServer()
	defer server.Close()
	server.SetAbuseScore("203.0.113.42", 55)

	mr := miniredis.RunT(t)

	cfg := liveConfig(server)
	cfg.Enrichment.Provider = config.ProviderAbuseIPDB
	cfg.Cache.Backend = config.CacheRedis
	cfg.Cache.Redis.Addr = mr.Addr()

	app, err := NewApp(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer app.Shutdown()

	report, err := app.Run(context.Background(), triage.DemoFindings(time.Now())[1:2])
	require.NoError(t, err)
	assert.Equal(t, 57.1, report.Results[0].Score)
	assert.True(t, mr.Exists(threat.RedisKeyPrefix+"ip:203.0.113.42"))
}

func TestNewApp_SchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schemas.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schemas:\n  Policy:\n    SourceAddr: ip\n"), 0o600))

	cfg := demoConfig()
	cfg.Extraction.SchemaFile = path

	app, err := NewApp(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer app.Shutdown()

	report, err := app.Run(context.Background(), []core.Finding{{
		ID:       "p-1",
		Type:     "Policy:S3/BucketBlockPublicAccessDisabled",
		Severity: 5,
		Fields:   map[string]interface{}{"SourceAddr": "185.220.101.32"},
	}})
	require.NoError(t, err)
	require.Len(t, report.Results[0].Enrichments, 1)
	assert.Equal(t, 90, report.Results[0].MaxReputation)
}

func TestNewApp_BadSchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schemas.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schemas:\n  Policy:\n    SourceAddr: url\n"), 0o600))

	cfg := demoConfig()
	cfg.Extraction.SchemaFile = path

	_, err := NewApp(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	assert.Error(t, err)
}

func TestInitCache_RedisUnavailable(t *testing.T) {
	saved := redisRetryDelays
	redisRetryDelays = []time.Duration{time.Millisecond}
	defer func() { redisRetryDelays = saved }()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := config.Default()
	cfg.Cache.Backend = config.CacheRedis
	cfg.Cache.Redis.Addr = addr

	_, err := InitCache(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestInitCache_Memory(t *testing.T) {
	cache, err := InitCache(context.Background(), config.Default(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.IsType(t, &threat.MemoryCache{}, cache)
	assert.NoError(t, cache.Close())
}

func TestClientConfigFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.EnrichmentConcurrency = 6
	cfg.Enrichment.RequestsPerMinute = 4
	cfg.Enrichment.Breaker.MaxFailures = 2

	cc := ClientConfigFromConfig(cfg)
	assert.Equal(t, 6, cc.Workers)
	assert.Equal(t, 4, cc.RequestsPerMinute)
	assert.Equal(t, uint32(2), cc.Breaker.MaxFailures)
	assert.Equal(t, cfg.Enrichment.Breaker.OpenTimeout, cc.Breaker.OpenTimeout)
	assert.Equal(t, core.DefaultBreakerConfig().MaxProbes, cc.Breaker.MaxProbes)
}

func TestPipelineOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	opts := PipelineOptionsFromConfig(cfg)
	assert.Equal(t, triage.DefaultOptions(), opts)
}

func TestApp_ShutdownWritesMetrics(t *testing.T) {
	app, err := NewApp(context.Background(), demoConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	app.MetricsFile = filepath.Join(t.TempDir(), "soctriage.prom")
	_, err = app.Run(context.Background(), triage.DemoFindings(time.Now()))
	require.NoError(t, err)

	app.Shutdown()
	app.Shutdown()

	data, err := os.ReadFile(app.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "soctriage_findings_triaged_total")
}

func TestNewApp_TracingLogsSpans(t *testing.T) {
	obsCore, logs := observer.New(zap.DebugLevel)
	cfg := demoConfig()
	cfg.Tracing.Enabled = true

	app, err := NewApp(context.Background(), cfg, zap.New(obsCore).Sugar())
	require.NoError(t, err)
	require.NotNil(t, app.tracer)

	_, err = app.Run(context.Background(), triage.DemoFindings(time.Now()))
	require.NoError(t, err)
	app.Shutdown()

	spans := logs.FilterMessage("Span finished").FilterField(zap.String("span", "triage.run")).All()
	require.Len(t, spans, 1)
	fields := spans[0].ContextMap()
	assert.Equal(t, int64(3), fields["findings.retained"])
	assert.NotEmpty(t, fields["run.id"])
}

func TestInitTracing_Disabled(t *testing.T) {
	assert.Nil(t, InitTracing(demoConfig(), zaptest.NewLogger(t).Sugar()))
}

func TestInitLogger(t *testing.T) {
	_, sugar, err := InitLogger("debug", nil)
	require.NoError(t, err)
	assert.NotNil(t, sugar)

	_, _, err = InitLogger("loud", nil)
	assert.Error(t, err)
}
