package config

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/zalando/apigw"
	"github.com/zalando/apigw/connector"
	"github.com/zalando/apigw/discovery"
	"github.com/zalando/apigw/stages"
	"github.com/zalando/apigw/tags"
)

type Config struct {
	ConfigFile string
	Flags      *flag.FlagSet

	// generic:
	Address         string        `yaml:"address"`
	SupportListener string        `yaml:"support-listener"`
	Tags            string        `yaml:"tags"`
	APIsFiles       fileListFlag  `yaml:"apis-file"`
	PrintVersion    bool          `yaml:"version"`
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout"`

	// logging:
	ApplicationLogLevel       log.Level `yaml:"-"`
	ApplicationLogLevelString string    `yaml:"application-log-level"`
	ApplicationLogPrefix      string    `yaml:"application-log-prefix"`
	ApplicationLogJSONEnabled bool      `yaml:"application-log-json-enabled"`
	AccessLogDisabled         bool      `yaml:"access-log-disabled"`
	AccessLogJSONEnabled      bool      `yaml:"access-log-json-enabled"`

	// tracing and metrics:
	OpenTracing                  string    `yaml:"opentracing"`
	MetricsFlavour               *listFlag `yaml:"metrics-flavour"`
	MetricsPrefix                string    `yaml:"metrics-prefix"`
	EnableRuntimeMetrics         bool      `yaml:"runtime-metrics"`
	HistogramMetricBucketsString string    `yaml:"histogram-metric-buckets"`
	HistogramMetricBuckets       []float64 `yaml:"-"`
	MetricsExpDecaySample        bool      `yaml:"metrics-exp-decay-sample"`

	// request handling:
	FlowIDGenerator string   `yaml:"flow-id-generator"`
	ReuseFlowID     bool     `yaml:"reuse-flow-id"`
	ResponseHeaders mapFlags `yaml:"response-headers"`

	// backend connections:
	BackendTimeout          time.Duration `yaml:"backend-timeout"`
	ResponseHeaderTimeout   time.Duration `yaml:"response-header-timeout-backend"`
	IdleConnsPerHost        int           `yaml:"idle-conns-num"`
	CloseIdleConnsPeriod    time.Duration `yaml:"close-idle-conns-period"`
	BreakerFailures         int           `yaml:"breaker-failures"`
	BreakerTimeout          time.Duration `yaml:"breaker-timeout"`
	BreakerHalfOpenRequests int           `yaml:"breaker-half-open-requests"`

	// endpoint discovery:
	EtcdUrls               *listFlag     `yaml:"etcd-urls"`
	EtcdPrefix             string        `yaml:"etcd-prefix"`
	EtcdTimeout            time.Duration `yaml:"etcd-timeout"`
	RedisAddress           string        `yaml:"redis-address"`
	RedisPassword          string        `yaml:"redis-password"`
	RedisPrefix            string        `yaml:"redis-prefix"`
	RedisDiscoveryInterval time.Duration `yaml:"redis-discovery-interval"`
}

const (
	defaultApplicationLogPrefix = "[APP]"
	defaultMetricsPrefix        = "apigw."

	redisPasswordEnv = "APIGW_REDIS_PASSWORD"
)

func NewConfig() *Config {
	cfg := new(Config)
	cfg.MetricsFlavour = commaListFlag("codahale", "prometheus")
	cfg.EtcdUrls = commaListFlag()
	cfg.ResponseHeaders = newMapFlags()

	flag := flag.NewFlagSet("", flag.ExitOnError)
	flag.StringVar(&cfg.ConfigFile, "config-file", "", "if provided the flags will be loaded/overwritten by the values on the file (yaml)")

	// generic:
	flag.StringVar(&cfg.Address, "address", ":9090", "network address that the gateway should listen on")
	flag.StringVar(&cfg.SupportListener, "support-listener", ":9911", "network address used for exposing the /metrics endpoint. Disabled when empty")
	flag.StringVar(&cfg.Tags, "tags", "", "sharding tags of the gateway, e.g. internal,!partner. APIs and endpoints with tags not matching are not deployed")
	flag.Var(&cfg.APIsFiles, "apis-file", "file with the API definitions in YAML or JSON format, can be repeated")
	flag.BoolVar(&cfg.PrintVersion, "version", false, "print the version and exit")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", apigw.DefaultShutdownTimeout, "time given to the in-flight requests on shutdown")

	// logging:
	flag.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", "INFO", "log level for application logs, possible values: PANIC, FATAL, ERROR, WARN, INFO, DEBUG")
	flag.StringVar(&cfg.ApplicationLogPrefix, "application-log-prefix", defaultApplicationLogPrefix, "prefix for each log entry")
	flag.BoolVar(&cfg.ApplicationLogJSONEnabled, "application-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.BoolVar(&cfg.AccessLogDisabled, "access-log-disabled", false, "when this flag is set, no access log is printed")
	flag.BoolVar(&cfg.AccessLogJSONEnabled, "access-log-json-enabled", false, "when this flag is set, log in JSON format is used")

	// tracing and metrics:
	flag.StringVar(&cfg.OpenTracing, "opentracing", "noop", "list of arguments for opentracing (space separated), first argument is the tracer implementation: noop, basic or mock")
	flag.Var(cfg.MetricsFlavour, "metrics-flavour", "Metrics flavour is used to change the exposed metrics format. Supported metric formats: 'codahale' and 'prometheus', you can select both of them")
	flag.StringVar(&cfg.MetricsPrefix, "metrics-prefix", defaultMetricsPrefix, "allows setting a custom path prefix for the Coda Hale metrics keys")
	flag.BoolVar(&cfg.EnableRuntimeMetrics, "runtime-metrics", true, "enables reporting the Go runtime statistics")
	flag.StringVar(&cfg.HistogramMetricBucketsString, "histogram-metric-buckets", "", "use custom buckets for prometheus histograms, must be a comma-separated list of numbers")
	flag.BoolVar(&cfg.MetricsExpDecaySample, "metrics-exp-decay-sample", false, "use exponentially decaying samples in the Coda Hale timers")

	// request handling:
	flag.StringVar(&cfg.FlowIDGenerator, "flow-id-generator", "uuid", "generator of the request ids: uuid, ulid or standard")
	flag.BoolVar(&cfg.ReuseFlowID, "reuse-flow-id", false, "reuse the X-Flow-Id of the incoming request when it is valid")
	flag.Var(&cfg.ResponseHeaders, "response-headers", "headers set on every client response, e.g. X-Gateway=apigw,Server=. An empty value removes the header")

	// backend connections:
	flag.DurationVar(&cfg.BackendTimeout, "backend-timeout", connector.DefaultDialTimeout, "timeout of establishing the backend connections")
	flag.DurationVar(&cfg.ResponseHeaderTimeout, "response-header-timeout-backend", 60*time.Second, "time to wait for the response headers of the backends")
	flag.IntVar(&cfg.IdleConnsPerHost, "idle-conns-num", connector.DefaultIdleConnsPerHost, "maximum idle connections per backend host")
	flag.DurationVar(&cfg.CloseIdleConnsPeriod, "close-idle-conns-period", 20*time.Second, "sets the time interval of closing all idle connections. Not closing when 0")
	flag.IntVar(&cfg.BreakerFailures, "breaker-failures", 0, "consecutive failures opening the circuit breaker of an endpoint. Disabled when 0")
	flag.DurationVar(&cfg.BreakerTimeout, "breaker-timeout", 60*time.Second, "time an open circuit breaker waits before letting requests through")
	flag.IntVar(&cfg.BreakerHalfOpenRequests, "breaker-half-open-requests", 1, "requests allowed through a half-open circuit breaker")

	// endpoint discovery:
	flag.Var(cfg.EtcdUrls, "etcd-urls", "urls of nodes in an etcd cluster, storing the discovered endpoints. Disabled when empty")
	flag.StringVar(&cfg.EtcdPrefix, "etcd-prefix", discovery.DefaultEtcdPrefix, "path prefix of the endpoint keys in etcd")
	flag.DurationVar(&cfg.EtcdTimeout, "etcd-timeout", 2*time.Second, "timeout of the etcd client")
	flag.StringVar(&cfg.RedisAddress, "redis-address", "", "address of a redis server, storing the discovered endpoints in sets. Disabled when empty.\nUse "+redisPasswordEnv+" environment variable or 'redis-password' key in config file to set redis password")
	flag.StringVar(&cfg.RedisPrefix, "redis-prefix", discovery.DefaultRedisPrefix, "prefix of the endpoint set keys in redis")
	flag.DurationVar(&cfg.RedisDiscoveryInterval, "redis-discovery-interval", discovery.DefaultRedisInterval, "interval of reading the endpoint sets from redis")

	cfg.Flags = flag
	return cfg
}

func validate(c *Config) error {
	if _, err := log.ParseLevel(c.ApplicationLogLevelString); err != nil {
		return err
	}

	if _, err := c.parseHistogramBuckets(); err != nil {
		return err
	}

	if _, err := tags.Parse(c.Tags); err != nil {
		return fmt.Errorf("invalid tags: %w", err)
	}

	if _, err := stages.NewGenerator(c.FlowIDGenerator); err != nil {
		return err
	}

	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", c.ShutdownTimeout)
	}

	return nil
}

func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[0], os.Args[1:])
}

func (c *Config) ParseArgs(progname string, args []string) error {
	c.Flags.Init(progname, flag.ExitOnError)
	err := c.Flags.Parse(args)
	if err != nil {
		return err
	}

	// check if arguments were correctly parsed.
	if len(c.Flags.Args()) != 0 {
		return fmt.Errorf("invalid arguments: %s", c.Flags.Args())
	}

	if c.ConfigFile != "" {
		yamlFile, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}

		err = yaml.Unmarshal(yamlFile, c)
		if err != nil {
			return fmt.Errorf("unmarshalling config file error: %w", err)
		}

		err = c.Flags.Parse(args)
		if err != nil {
			return err
		}
	}

	if err := validate(c); err != nil {
		return err
	}

	c.ApplicationLogLevel, _ = log.ParseLevel(c.ApplicationLogLevelString)
	c.HistogramMetricBuckets, _ = c.parseHistogramBuckets()

	c.parseEnv()
	return nil
}

func (c *Config) ToOptions() apigw.Options {
	var tracingOpts []string
	if c.OpenTracing != "" {
		tracingOpts = strings.Fields(c.OpenTracing)
	}

	return apigw.Options{
		// generic:
		Address:         c.Address,
		SupportListener: c.SupportListener,
		Tags:            c.Tags,
		APIsFiles:       c.APIsFiles,
		ShutdownTimeout: c.ShutdownTimeout,

		// logging:
		ApplicationLogLevel:       c.ApplicationLogLevel,
		ApplicationLogPrefix:      c.ApplicationLogPrefix,
		ApplicationLogJSONEnabled: c.ApplicationLogJSONEnabled,
		AccessLogDisabled:         c.AccessLogDisabled,
		AccessLogJSONEnabled:      c.AccessLogJSONEnabled,

		// tracing and metrics:
		OpenTracing:              tracingOpts,
		MetricsFlavours:          c.MetricsFlavour.values,
		MetricsPrefix:            c.MetricsPrefix,
		EnableRuntimeMetrics:     c.EnableRuntimeMetrics,
		HistogramMetricBuckets:   c.HistogramMetricBuckets,
		MetricsUseExpDecaySample: c.MetricsExpDecaySample,

		// request handling:
		FlowIDGenerator: c.FlowIDGenerator,
		ReuseFlowID:     c.ReuseFlowID,
		ResponseHeaders: c.ResponseHeaders.values,

		// backend connections:
		BackendTimeout:          c.BackendTimeout,
		ResponseHeaderTimeout:   c.ResponseHeaderTimeout,
		IdleConnectionsPerHost:  c.IdleConnsPerHost,
		CloseIdleConnsPeriod:    c.CloseIdleConnsPeriod,
		BreakerFailures:         c.BreakerFailures,
		BreakerTimeout:          c.BreakerTimeout,
		BreakerHalfOpenRequests: c.BreakerHalfOpenRequests,

		// endpoint discovery:
		EtcdUrls:               c.EtcdUrls.values,
		EtcdPrefix:             c.EtcdPrefix,
		EtcdTimeout:            c.EtcdTimeout,
		RedisAddress:           c.RedisAddress,
		RedisPassword:          c.RedisPassword,
		RedisPrefix:            c.RedisPrefix,
		RedisDiscoveryInterval: c.RedisDiscoveryInterval,
	}
}

func (c *Config) parseHistogramBuckets() ([]float64, error) {
	if c.HistogramMetricBucketsString == "" {
		return prometheus.DefBuckets, nil
	}

	var result []float64
	thresholds := strings.Split(c.HistogramMetricBucketsString, ",")
	for _, v := range thresholds {
		bucket, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("unable to parse histogram-metric-buckets: %w", err)
		}
		result = append(result, bucket)
	}
	sort.Float64s(result)
	return result, nil
}

func (c *Config) parseEnv() {
	// Set Redis password from environment variable if not set earlier (configuration file)
	if c.RedisPassword == "" {
		c.RedisPassword = os.Getenv(redisPasswordEnv)
	}
}
