// Package config loads process configuration from an optional YAML file and
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"jobrelay/internal/autoscale"
	"jobrelay/internal/llm"
	"jobrelay/internal/objectstore"

	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Scalers.
const (
	ScalerNone = "none"
	ScalerECS  = "ecs"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database
	StoreDriver string
	DatabaseURL string

	// Controller
	HTTPPort           int
	InternalSecret     string
	RateLimitPerMinute int
	RateLimitBurst     int
	StuckAfter         time.Duration
	ReaperInterval     time.Duration

	// Worker
	WorkerID                string
	WorkerConcurrency       int
	WorkerPollInterval      time.Duration
	WorkerMaxBackoff        time.Duration
	WorkerHeartbeatInterval time.Duration
	WorkerMetricsPort       int
	JobTimeout              time.Duration
	WorkspaceDir            string

	// Remote agent gateway; empty URL disables remote jobs
	GatewayURL           string
	GatewayToken         string
	GatewayTimeout       time.Duration
	GatewayProbeAttempts int

	LLM     llm.Config
	S3      objectstore.S3Config
	Metered bool

	// Optional progress fan-out
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Autoscaling
	Autoscale           autoscale.PolicyConfig
	AutoscaleInterval   time.Duration
	FailedWindow        time.Duration
	Scaler              string
	ECSCluster          string
	ECSService          string
	CloudWatchNamespace string
	AWSRegion           string

	LogLevel     string
	OTELEndpoint string
}

// secrets may be supplied as files through NAME_FILE.
var secrets = []string{
	"DATABASE_URL",
	"INTERNAL_SECRET",
	"GATEWAY_TOKEN",
	"LLM_API_KEY",
	"S3_SECRET_ACCESS_KEY",
	"REDIS_PASSWORD",
}

// readSecret sets envKey from the file named by envKey_FILE unless envKey is
// already set.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	path := os.Getenv(envKey + "_FILE")
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

// Load reads configuration from configPath (optional) and environment
// variables. Environment variables take precedence over the file.
func Load(configPath string) (*Config, error) {
	for _, key := range secrets {
		readSecret(key)
	}

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("jobrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		// Missing default file is fine
		_ = v.ReadInConfig()
	}

	bindEnv(v)
	setDefaults(v)

	cfg := &Config{
		StoreDriver: v.GetString("store_driver"),
		DatabaseURL: v.GetString("database_url"),

		HTTPPort:           v.GetInt("http_port"),
		InternalSecret:     v.GetString("internal_secret"),
		RateLimitPerMinute: v.GetInt("rate_limit_per_minute"),
		RateLimitBurst:     v.GetInt("rate_limit_burst"),
		StuckAfter:         v.GetDuration("stuck_after"),
		ReaperInterval:     v.GetDuration("reaper_interval"),

		WorkerID:                v.GetString("worker_id"),
		WorkerConcurrency:       v.GetInt("worker_concurrency"),
		WorkerPollInterval:      v.GetDuration("worker_poll_interval"),
		WorkerMaxBackoff:        v.GetDuration("worker_max_backoff"),
		WorkerHeartbeatInterval: v.GetDuration("worker_heartbeat_interval"),
		WorkerMetricsPort:       v.GetInt("worker_metrics_port"),
		JobTimeout:              v.GetDuration("job_timeout"),
		WorkspaceDir:            v.GetString("workspace_dir"),

		GatewayURL:           v.GetString("gateway_url"),
		GatewayToken:         v.GetString("gateway_token"),
		GatewayTimeout:       v.GetDuration("gateway_timeout"),
		GatewayProbeAttempts: v.GetInt("gateway_probe_attempts"),

		LLM: llm.Config{
			Mode:        llm.Mode(v.GetString("llm_mode")),
			BaseURL:     v.GetString("llm_base_url"),
			APIKey:      v.GetString("llm_api_key"),
			Model:       v.GetString("llm_model"),
			Timeout:     v.GetDuration("llm_timeout"),
			Temperature: v.GetFloat64("llm_temperature"),
			MaxTokens:   v.GetInt("llm_max_tokens"),
		},
		S3: objectstore.S3Config{
			Bucket:          v.GetString("s3_bucket"),
			Region:          v.GetString("s3_region"),
			Endpoint:        v.GetString("s3_endpoint"),
			AccessKeyID:     v.GetString("s3_access_key_id"),
			SecretAccessKey: v.GetString("s3_secret_access_key"),
			PublicURL:       v.GetString("s3_public_url"),
			UsePathStyle:    v.GetBool("s3_use_path_style"),
		},
		Metered: v.GetBool("metering_enabled"),

		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),

		Autoscale: autoscale.PolicyConfig{
			TargetRatio:      v.GetFloat64("autoscale_target_ratio"),
			MinWorkers:       v.GetInt("autoscale_min_workers"),
			MaxWorkers:       v.GetInt("autoscale_max_workers"),
			ScaleOutCooldown: v.GetDuration("autoscale_scale_out_cooldown"),
			ScaleInCooldown:  v.GetDuration("autoscale_scale_in_cooldown"),
		},
		AutoscaleInterval:   v.GetDuration("autoscale_interval"),
		FailedWindow:        v.GetDuration("autoscale_failed_window"),
		Scaler:              v.GetString("autoscale_scaler"),
		ECSCluster:          v.GetString("ecs_cluster"),
		ECSService:          v.GetString("ecs_service"),
		CloudWatchNamespace: v.GetString("cloudwatch_namespace"),
		AWSRegion:           v.GetString("aws_region"),

		LogLevel:     v.GetString("log_level"),
		OTELEndpoint: v.GetString("otel_endpoint"),
	}

	if cfg.WorkerID == "" {
		host, _ := os.Hostname()
		cfg.WorkerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindEnv(v *viper.Viper) {
	envs := map[string]string{
		"store_driver":                 "STORE_DRIVER",
		"database_url":                 "DATABASE_URL",
		"http_port":                    "PORT",
		"internal_secret":              "INTERNAL_SECRET",
		"rate_limit_per_minute":        "RATE_LIMIT_PER_MINUTE",
		"rate_limit_burst":             "RATE_LIMIT_BURST",
		"stuck_after":                  "STUCK_AFTER",
		"reaper_interval":              "REAPER_INTERVAL",
		"worker_id":                    "WORKER_ID",
		"worker_concurrency":           "WORKER_CONCURRENCY",
		"worker_poll_interval":         "WORKER_POLL_INTERVAL",
		"worker_max_backoff":           "WORKER_MAX_BACKOFF",
		"worker_heartbeat_interval":    "WORKER_HEARTBEAT_INTERVAL",
		"worker_metrics_port":          "WORKER_METRICS_PORT",
		"job_timeout":                  "JOB_TIMEOUT",
		"workspace_dir":                "WORKSPACE_DIR",
		"gateway_url":                  "GATEWAY_URL",
		"gateway_token":                "GATEWAY_TOKEN",
		"gateway_timeout":              "GATEWAY_TIMEOUT",
		"gateway_probe_attempts":       "GATEWAY_PROBE_ATTEMPTS",
		"llm_mode":                     "LLM_MODE",
		"llm_base_url":                 "LLM_BASE_URL",
		"llm_api_key":                  "LLM_API_KEY",
		"llm_model":                    "LLM_MODEL",
		"llm_timeout":                  "LLM_TIMEOUT",
		"llm_temperature":              "LLM_TEMPERATURE",
		"llm_max_tokens":               "LLM_MAX_TOKENS",
		"s3_bucket":                    "S3_BUCKET",
		"s3_region":                    "S3_REGION",
		"s3_endpoint":                  "S3_ENDPOINT",
		"s3_access_key_id":             "S3_ACCESS_KEY_ID",
		"s3_secret_access_key":         "S3_SECRET_ACCESS_KEY",
		"s3_public_url":                "S3_PUBLIC_URL",
		"s3_use_path_style":            "S3_USE_PATH_STYLE",
		"metering_enabled":             "METERING_ENABLED",
		"redis_addr":                   "REDIS_ADDR",
		"redis_password":               "REDIS_PASSWORD",
		"redis_db":                     "REDIS_DB",
		"autoscale_target_ratio":       "AUTOSCALE_TARGET_RATIO",
		"autoscale_min_workers":        "AUTOSCALE_MIN_WORKERS",
		"autoscale_max_workers":        "AUTOSCALE_MAX_WORKERS",
		"autoscale_scale_out_cooldown": "AUTOSCALE_SCALE_OUT_COOLDOWN",
		"autoscale_scale_in_cooldown":  "AUTOSCALE_SCALE_IN_COOLDOWN",
		"autoscale_interval":           "AUTOSCALE_INTERVAL",
		"autoscale_failed_window":      "AUTOSCALE_FAILED_WINDOW",
		"autoscale_scaler":             "AUTOSCALE_SCALER",
		"ecs_cluster":                  "ECS_CLUSTER",
		"ecs_service":                  "ECS_SERVICE",
		"cloudwatch_namespace":         "CLOUDWATCH_NAMESPACE",
		"aws_region":                   "AWS_REGION",
		"log_level":                    "LOG_LEVEL",
		"otel_endpoint":                "OTEL_EXPORTER_OTLP_ENDPOINT",
	}
	for key, env := range envs {
		_ = v.BindEnv(key, env)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store_driver", DriverPostgres)
	v.SetDefault("http_port", 6161)
	v.SetDefault("rate_limit_per_minute", 60)
	v.SetDefault("rate_limit_burst", 10)
	v.SetDefault("stuck_after", 15*time.Minute)
	v.SetDefault("reaper_interval", time.Minute)

	v.SetDefault("worker_concurrency", 1)
	v.SetDefault("worker_poll_interval", time.Second)
	v.SetDefault("worker_max_backoff", 30*time.Second)
	v.SetDefault("worker_heartbeat_interval", 30*time.Second)
	v.SetDefault("worker_metrics_port", 6162)
	v.SetDefault("job_timeout", 30*time.Minute)

	v.SetDefault("gateway_timeout", 5*time.Minute)
	v.SetDefault("gateway_probe_attempts", 5)

	v.SetDefault("llm_mode", string(llm.ModeDirect))
	v.SetDefault("llm_base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm_model", "llama-3.3-70b-versatile")
	v.SetDefault("llm_timeout", 60*time.Second)
	v.SetDefault("llm_temperature", 0.7)
	v.SetDefault("llm_max_tokens", 2048)

	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("metering_enabled", true)

	v.SetDefault("autoscale_target_ratio", 5.0)
	v.SetDefault("autoscale_min_workers", 1)
	v.SetDefault("autoscale_max_workers", 20)
	v.SetDefault("autoscale_scale_out_cooldown", 60*time.Second)
	v.SetDefault("autoscale_scale_in_cooldown", 300*time.Second)
	v.SetDefault("autoscale_interval", 60*time.Second)
	v.SetDefault("autoscale_failed_window", 5*time.Minute)
	v.SetDefault("autoscale_scaler", ScalerNone)
	v.SetDefault("aws_region", "us-east-1")

	v.SetDefault("log_level", "info")
	v.SetDefault("otel_endpoint", "localhost:4317")
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required (env: DATABASE_URL)")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid store_driver %q (expected postgres or memory)", c.StoreDriver)
	}

	if c.LLM.Mode != llm.ModeManaged && c.LLM.Mode != llm.ModeDirect {
		return fmt.Errorf("invalid llm_mode %q (expected managed or direct)", c.LLM.Mode)
	}

	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("worker_concurrency must be at least 1, got %d", c.WorkerConcurrency)
	}

	switch c.Scaler {
	case ScalerNone:
	case ScalerECS:
		if c.ECSCluster == "" || c.ECSService == "" {
			return fmt.Errorf("ecs_cluster and ecs_service are required for the ecs scaler")
		}
	default:
		return fmt.Errorf("invalid autoscale_scaler %q (expected none or ecs)", c.Scaler)
	}
	return nil
}
