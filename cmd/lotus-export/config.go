package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/tinytelemetry/lotus-export/internal/compress"
	"github.com/tinytelemetry/lotus-export/internal/exporter"
	"github.com/tinytelemetry/lotus-export/internal/model"
	"github.com/tinytelemetry/lotus-export/internal/transform"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix = "LOTUS_EXPORT"

	defaultLokiTimeout         = 30 * time.Second
	defaultS3Region            = "us-east-1"
	defaultAPIAddr             = "127.0.0.1:9464"
	defaultLedgerRetentionDays = 90
	defaultLogLevel            = "info"
	defaultLogFormat           = "text"
)

// appConfig is internal runtime configuration.
type appConfig struct {
	LokiURL         string        `mapstructure:"loki-url"`
	LokiOrgID       string        `mapstructure:"loki-org-id"`
	LokiUsername    string        `mapstructure:"loki-username"`
	LokiPassword    string        `mapstructure:"loki-password"`
	LokiBearerToken string        `mapstructure:"loki-bearer-token"`
	LokiTimeout     time.Duration `mapstructure:"loki-timeout"`

	StoreURL        string `mapstructure:"store-url"`
	S3Region        string `mapstructure:"s3-region"`
	S3Endpoint      string `mapstructure:"s3-endpoint"`
	S3AccessKey     string `mapstructure:"s3-access-key"`
	S3SecretKey     string `mapstructure:"s3-secret-key"`
	S3SessionToken  string `mapstructure:"s3-session-token"`
	S3PathStyle     bool   `mapstructure:"s3-path-style"`
	AzureAccount    string `mapstructure:"azure-account"`
	AzureAccountKey string `mapstructure:"azure-account-key"`
	AzureServiceURL string `mapstructure:"azure-service-url"`
	MinIOEndpoint   string `mapstructure:"minio-endpoint"`
	MinIOAccessKey  string `mapstructure:"minio-access-key"`
	MinIOSecretKey  string `mapstructure:"minio-secret-key"`
	MinIOUseSSL     bool   `mapstructure:"minio-use-ssl"`

	Compression     string        `mapstructure:"compression"`
	LookbackDays    int           `mapstructure:"lookback-days"`
	Timezone        string        `mapstructure:"timezone"`
	Schedule        string        `mapstructure:"schedule"`
	RunOnStart      bool          `mapstructure:"run-on-start"`
	FailurePolicy   string        `mapstructure:"failure-policy"`
	FetchAttempts   int           `mapstructure:"fetch-attempts"`
	FetchRetryDelay time.Duration `mapstructure:"fetch-retry-delay"`
	PageLimit       int           `mapstructure:"page-limit"`

	LedgerPath          string `mapstructure:"ledger-path"`
	LedgerRetentionDays int    `mapstructure:"ledger-retention-days"`
	APIEnabled          bool   `mapstructure:"api-enabled"`
	APIAddr             string `mapstructure:"api-addr"`

	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`

	Extractors []model.Extractor `mapstructure:"extractors"`

	ConfigPath string         `mapstructure:"-"` // not from config file
	Location   *time.Location `mapstructure:"-"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("loki-timeout", defaultLokiTimeout)
	v.SetDefault("s3-region", defaultS3Region)
	v.SetDefault("s3-path-style", false)
	v.SetDefault("minio-use-ssl", true)
	v.SetDefault("compression", model.DefaultCompression)
	v.SetDefault("lookback-days", model.DefaultLookbackDays)
	v.SetDefault("timezone", "Local")
	v.SetDefault("schedule", model.DefaultSchedule)
	v.SetDefault("run-on-start", false)
	v.SetDefault("failure-policy", model.DefaultFailurePolicy)
	v.SetDefault("fetch-attempts", model.DefaultFetchAttempts)
	v.SetDefault("fetch-retry-delay", model.DefaultFetchRetryDelay)
	v.SetDefault("page-limit", model.DefaultPageLimit)
	v.SetDefault("ledger-path", "")
	v.SetDefault("ledger-retention-days", defaultLedgerRetentionDays)
	v.SetDefault("api-enabled", false)
	v.SetDefault("api-addr", defaultAPIAddr)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-format", defaultLogFormat)

	for _, key := range []string{
		"loki-url", "loki-org-id", "loki-username", "loki-password", "loki-bearer-token",
		"store-url", "s3-endpoint", "s3-access-key", "s3-secret-key", "s3-session-token",
		"azure-account", "azure-account-key", "azure-service-url",
		"minio-endpoint", "minio-access-key", "minio-secret-key",
		"extractors",
	} {
		_ = v.BindEnv(key)
	}
	return v
}

// loadConfig reads defaults, the optional config file and LOTUS_EXPORT_*
// environment variables, in increasing precedence. Flags bound to v by the
// caller take precedence over all of them.
func loadConfig(v *viper.Viper, configPath string) (appConfig, error) {
	var cfg appConfig

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigFile(filepath.Join(home, ".config", "lotus-export", "config.yml"))
	}

	configUsed := ""
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		notFound := errors.As(err, &configFileNotFound) || os.IsNotExist(err)
		// An explicit path must exist.
		if !notFound || configPath != "" {
			return cfg, fmt.Errorf("config: read %s: %w: %w", v.ConfigFileUsed(), model.ErrConfig, err)
		}
	} else {
		configUsed = v.ConfigFileUsed()
	}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		extractorListHook,
		transformSpecHook,
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return cfg, fmt.Errorf("config: decode: %w: %w", model.ErrConfig, err)
	}
	cfg.ConfigPath = configUsed
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var (
	extractorsType    = reflect.TypeOf([]model.Extractor(nil))
	transformSpecType = reflect.TypeOf(model.TransformSpec{})
)

// extractorListHook decodes the extractor list when it arrives as a single
// JSON or YAML string, as it does from LOTUS_EXPORT_EXTRACTORS.
func extractorListHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != extractorsType {
		return data, nil
	}
	raw := strings.TrimSpace(data.(string))
	if raw == "" {
		return []any{}, nil
	}
	var list []any
	if err := yaml.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("extractors: %w", err)
	}
	return list, nil
}

// transformSpecHook accepts a bare transform name as shorthand for
// {kind: name}.
func transformSpecHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != transformSpecType {
		return data, nil
	}
	return model.TransformSpec{Kind: data.(string)}, nil
}

func (c *appConfig) validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.LokiURL) == "" {
		fail("loki-url is required")
	}
	if strings.TrimSpace(c.StoreURL) == "" {
		fail("store-url is required")
	}
	if len(c.Extractors) == 0 {
		fail("at least one extractor is required")
	}

	prefixes := make(map[string]int, len(c.Extractors))
	for i, ex := range c.Extractors {
		if strings.TrimSpace(ex.Query) == "" {
			fail("extractor %d (%s): query is required", i, ex.DisplayName())
		}
		if ex.Transform.Kind == "" {
			fail("extractor %d (%s): transform is required (%s)", i, ex.DisplayName(), strings.Join(transform.Kinds(), ", "))
		} else if _, err := transform.New(ex.Transform); err != nil {
			fail("extractor %d (%s): %v", i, ex.DisplayName(), err)
		}
		if j, dup := prefixes[ex.Prefix]; dup {
			fail("extractors %d and %d share prefix %q", j, i, ex.Prefix)
		}
		prefixes[ex.Prefix] = i
	}

	if err := compress.Validate(c.Compression); err != nil {
		fail("%v", err)
	}
	if _, err := exporter.ParsePolicy(c.FailurePolicy); err != nil {
		fail("%v", err)
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		fail("timezone %q: %v", c.Timezone, err)
	}
	c.Location = loc

	if c.LookbackDays < 0 {
		fail("lookback-days must not be negative")
	}
	if c.FetchAttempts < 1 {
		fail("fetch-attempts must be at least 1")
	}
	if c.PageLimit < 1 {
		fail("page-limit must be at least 1")
	}
	if c.FetchRetryDelay <= 0 {
		fail("fetch-retry-delay must be positive")
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		fail("%v", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		fail("log-format %q (text, json)", c.LogFormat)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w: %w", model.ErrConfig, errors.Join(errs...))
	}

	if strings.HasPrefix(c.LedgerPath, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			c.LedgerPath = filepath.Join(home, c.LedgerPath[2:])
		}
	}
	return nil
}
