package bootstrap

import (
	"fmt"
	"os"

	"soctriage/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger with colored console output on w.
// Logs go to stderr by default so that report output on stdout stays clean.
func InitLogger(level string, w zapcore.WriteSyncer) (*zap.Logger, *zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if w == nil {
		w = zapcore.Lock(os.Stderr)
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		w,
		lvl,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the application configuration with command-line overrides applied
func InitConfig(configFile string, overrides map[string]interface{}) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile, overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// logConfig records the effective settings of a run
func logConfig(cfg *config.Config, sugar *zap.SugaredLogger) {
	mode := "live"
	if cfg.DemoMode {
		mode = "demo"
	}
	sugar.Infow("Config loaded",
		"mode", mode,
		"provider", cfg.Enrichment.Provider,
		"cache", cfg.Cache.Backend,
		"max_findings_per_run", cfg.MaxFindingsPerRun,
		"enrichment_concurrency", cfg.EnrichmentConcurrency,
		"investigate_threshold", cfg.RiskThresholds.Investigate,
		"immediate_action_threshold", cfg.RiskThresholds.ImmediateAction)
}
