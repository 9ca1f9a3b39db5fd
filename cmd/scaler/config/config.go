// Package config parses the scaler configuration.
//
// Every option has a command-line flag and an environment variable; flags
// take precedence over the environment, which takes precedence over the
// defaults. The Lambda entry point parses the same configuration with no
// arguments, so it is driven entirely by its environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Metric sources.
const (
	SourcePrometheus = "prometheus"
	SourceSQS        = "sqs"
	SourceCloudWatch = "cloudwatch"
)

type Config struct {
	Listen     string
	GRPCListen string

	Service    string
	Metric     string
	PolicyFile string

	Source          string
	PromURL         string
	PromQuery       string
	PromToken       string
	PromAggregate   string
	QueueURL        string
	IncludeInFlight bool
	CWNamespace     string
	CWMetric        string
	CWQueueName     string
	CWStat          string
	CWPeriod        time.Duration
	AWSRegion       string

	Actuator        string
	ECSCluster      string
	ECSService      string
	InitialCapacity int

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	PostgresDSN   string

	Interval     time.Duration
	Window       time.Duration
	MaxSampleAge time.Duration

	LogFormat string
	LogLevel  string
}

// ParseFlags parses os.Args and the environment. Exits with status 1 on an
// invalid configuration.
func ParseFlags() *Config {
	cfg, err := Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		flag.Usage()
		os.Exit(1)
	}
	return cfg
}

// Parse registers the scaler flags on fs, parses args and validates the result.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}

	// Servers
	fs.StringVar(&cfg.Listen, "listen", getEnv("HTTP_LISTEN", ":8082"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":50051"), "gRPC health listen address")

	// Target
	fs.StringVar(&cfg.Service, "service", getEnv("SERVICE", ""), "Scaled service name (required)")
	fs.StringVar(&cfg.Metric, "metric", getEnv("METRIC", "queue_depth"), "Metric name recorded with decisions")
	fs.StringVar(&cfg.PolicyFile, "policy", getEnv("POLICY_FILE", ""), "Step-scaling policy file (required)")

	// Metric source
	fs.StringVar(&cfg.Source, "source", getEnv("SOURCE", SourceSQS), "Metric source: prometheus, sqs or cloudwatch")
	fs.StringVar(&cfg.PromURL, "prom-url", getEnv("PROM_URL", "http://localhost:9090"), "Prometheus URL")
	fs.StringVar(&cfg.PromQuery, "prom-query", getEnv("PROM_QUERY", ""), "Prometheus query")
	fs.StringVar(&cfg.PromToken, "prom-token", getEnv("PROM_BEARER_TOKEN", ""), "Prometheus bearer token")
	fs.StringVar(&cfg.PromAggregate, "prom-aggregate", getEnv("PROM_AGGREGATE", "sum"), "How Prometheus series are combined: sum or max")
	fs.StringVar(&cfg.QueueURL, "queue-url", getEnv("SQS_QUEUE_URL", ""), "SQS queue URL")
	fs.BoolVar(&cfg.IncludeInFlight, "include-in-flight", getEnvBool("SQS_INCLUDE_IN_FLIGHT", false), "Count in-flight SQS messages as queue depth")
	fs.StringVar(&cfg.CWNamespace, "cw-namespace", getEnv("CW_NAMESPACE", "AWS/SQS"), "CloudWatch namespace")
	fs.StringVar(&cfg.CWMetric, "cw-metric", getEnv("CW_METRIC", "ApproximateNumberOfMessagesVisible"), "CloudWatch metric name")
	fs.StringVar(&cfg.CWQueueName, "cw-queue-name", getEnv("CW_QUEUE_NAME", ""), "QueueName dimension of the CloudWatch metric")
	fs.StringVar(&cfg.CWStat, "cw-stat", getEnv("CW_STAT", "Maximum"), "CloudWatch statistic")
	fs.DurationVar(&cfg.CWPeriod, "cw-period", getEnvDuration("CW_PERIOD", time.Minute), "CloudWatch period")
	fs.StringVar(&cfg.AWSRegion, "region", getEnv("AWS_REGION", ""), "AWS region")

	// Actuator
	fs.StringVar(&cfg.Actuator, "actuator", getEnv("ACTUATOR", "ecs"), "Actuator: ecs or memory")
	fs.StringVar(&cfg.ECSCluster, "ecs-cluster", getEnv("ECS_CLUSTER", ""), "ECS cluster")
	fs.StringVar(&cfg.ECSService, "ecs-service", getEnv("ECS_SERVICE", ""), "ECS service (defaults to -service)")
	fs.IntVar(&cfg.InitialCapacity, "initial-capacity", getEnvInt("INITIAL_CAPACITY", 1), "Starting capacity of the memory actuator")

	// Storage
	fs.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Decision storage: memory, redis or postgres")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database")
	fs.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 24*time.Hour), "Redis key TTL")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", getEnv("POSTGRES_DSN", ""), "Postgres connection string")

	// Timing
	fs.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", 30*time.Second), "Evaluation interval")
	fs.DurationVar(&cfg.Window, "window", getEnvDuration("WINDOW", 5*time.Minute), "Metric collection window")
	fs.DurationVar(&cfg.MaxSampleAge, "max-sample-age", getEnvDuration("MAX_SAMPLE_AGE", 5*time.Minute), "Reject samples older than this (0 disables)")

	// Logging
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ECSService == "" {
		cfg.ECSService = cfg.Service
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the options required by the selected source,
// actuator and storage are present.
func (c *Config) Validate() error {
	var errs []error
	if c.Service == "" {
		errs = append(errs, errors.New("-service is required"))
	}
	if c.PolicyFile == "" {
		errs = append(errs, errors.New("-policy is required"))
	}
	if c.Interval <= 0 {
		errs = append(errs, errors.New("-interval must be positive"))
	}

	switch c.Source {
	case SourcePrometheus:
		if c.PromQuery == "" {
			errs = append(errs, errors.New("-prom-query is required for the prometheus source"))
		}
		if c.PromAggregate != "sum" && c.PromAggregate != "max" {
			errs = append(errs, fmt.Errorf("-prom-aggregate must be sum or max, got %q", c.PromAggregate))
		}
	case SourceSQS:
		if c.QueueURL == "" {
			errs = append(errs, errors.New("-queue-url is required for the sqs source"))
		}
	case SourceCloudWatch:
		if c.CWQueueName == "" {
			errs = append(errs, errors.New("-cw-queue-name is required for the cloudwatch source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Source))
	}

	switch c.Actuator {
	case "ecs":
		if c.ECSCluster == "" {
			errs = append(errs, errors.New("-ecs-cluster is required for the ecs actuator"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown actuator %q", c.Actuator))
	}

	switch c.Storage {
	case "memory", "redis":
	case "postgres":
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("-postgres-dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage %q", c.Storage))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
