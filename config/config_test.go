package config

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/zalando/apigw"
	"github.com/zalando/apigw/connector"
	"github.com/zalando/apigw/discovery"
)

func TestEnvOverrides_RedisPassword(t *testing.T) {
	for _, tt := range []struct {
		name string
		args []string
		env  string
		want string
	}{
		{
			name: "don't set redis password either from file nor environment",
			args: []string{"apigw"},
			env:  "",
			want: "",
		},
		{
			name: "set redis password from environment",
			args: []string{"apigw"},
			env:  "set_from_env",
			want: "set_from_env",
		},
		{
			name: "set redis password from config file and ignore environment",
			args: []string{"apigw", "-config-file=testdata/test.yaml"},
			env:  "set_from_env",
			want: "set_from_file",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(redisPasswordEnv, tt.env)

			cfg := NewConfig()
			err := cfg.ParseArgs(tt.args[0], tt.args[1:])
			require.NoError(t, err)

			if cfg.RedisPassword != tt.want {
				t.Errorf("cfg.RedisPassword didn't set correctly: Want '%s', got '%s'", tt.want, cfg.RedisPassword)
			}
		})
	}
}

func defaultConfig(with func(*Config)) *Config {
	cfg := &Config{
		Address:                   ":9090",
		SupportListener:           ":9911",
		ShutdownTimeout:           apigw.DefaultShutdownTimeout,
		ApplicationLogLevel:       log.InfoLevel,
		ApplicationLogLevelString: "INFO",
		ApplicationLogPrefix:      "[APP]",
		OpenTracing:               "noop",
		MetricsFlavour:            commaListFlag("codahale", "prometheus"),
		MetricsPrefix:             "apigw.",
		EnableRuntimeMetrics:      true,
		HistogramMetricBuckets:    prometheus.DefBuckets,
		FlowIDGenerator:           "uuid",
		ResponseHeaders:           newMapFlags(),
		BackendTimeout:            connector.DefaultDialTimeout,
		ResponseHeaderTimeout:     60 * time.Second,
		IdleConnsPerHost:          connector.DefaultIdleConnsPerHost,
		CloseIdleConnsPeriod:      20 * time.Second,
		BreakerTimeout:            60 * time.Second,
		BreakerHalfOpenRequests:   1,
		EtcdUrls:                  commaListFlag(),
		EtcdPrefix:                discovery.DefaultEtcdPrefix,
		EtcdTimeout:               2 * time.Second,
		RedisPrefix:               discovery.DefaultRedisPrefix,
		RedisDiscoveryInterval:    discovery.DefaultRedisInterval,
	}
	with(cfg)
	return cfg
}

func TestToOptions(t *testing.T) {
	c := defaultConfig(func(c *Config) {
		c.Tags = "internal"
		c.APIsFiles = fileListFlag{"apis.yaml", "more-apis.yaml"}
		c.OpenTracing = "basic sample-modulo=10"
		c.MetricsFlavour.values = []string{"prometheus"}
		c.ResponseHeaders.values = map[string]string{"X-Gateway": "apigw"}
		c.BreakerFailures = 5
		c.EtcdUrls.values = []string{"http://foo.test:2379"}
		c.RedisAddress = "redis.test:6379"
		c.RedisPassword = "secret"
	})

	o := c.ToOptions()

	assert.Equal(t, ":9090", o.Address)
	assert.Equal(t, "internal", o.Tags)
	assert.Equal(t, []string{"apis.yaml", "more-apis.yaml"}, o.APIsFiles)
	assert.Equal(t, []string{"basic", "sample-modulo=10"}, o.OpenTracing)
	assert.Equal(t, []string{"prometheus"}, o.MetricsFlavours)
	assert.Equal(t, "apigw.", o.MetricsPrefix)
	assert.Equal(t, prometheus.DefBuckets, o.HistogramMetricBuckets)
	assert.Equal(t, "uuid", o.FlowIDGenerator)
	assert.Equal(t, map[string]string{"X-Gateway": "apigw"}, o.ResponseHeaders)
	assert.Equal(t, 5, o.BreakerFailures)
	assert.Equal(t, 60*time.Second, o.BreakerTimeout)
	assert.Equal(t, []string{"http://foo.test:2379"}, o.EtcdUrls)
	assert.Equal(t, discovery.DefaultEtcdPrefix, o.EtcdPrefix)
	assert.Equal(t, "redis.test:6379", o.RedisAddress)
	assert.Equal(t, "secret", o.RedisPassword)
	assert.Equal(t, log.InfoLevel, o.ApplicationLogLevel)
	assert.Equal(t, apigw.DefaultShutdownTimeout, o.ShutdownTimeout)
}

func TestToOptionsNoTracing(t *testing.T) {
	c := defaultConfig(func(c *Config) { c.OpenTracing = "" })
	assert.Nil(t, c.ToOptions().OpenTracing)
}

func Test_Validate(t *testing.T) {
	for _, tt := range []struct {
		name    string
		change  func(c *Config)
		want    error
		wantErr bool
	}{
		{
			name: "test wrong loglevel",
			change: func(c *Config) {
				c.ApplicationLogLevelString = "wrongLevel"
			},
			want:    errors.New(`not a valid logrus Level: "wrongLevel"`),
			wantErr: true,
		},
		{
			name: "test valid config",
			change: func(c *Config) {
				c.HistogramMetricBucketsString = ""
				c.ApplicationLogLevel = log.InfoLevel
				c.ApplicationLogLevelString = "INFO"
			},
			want:    nil,
			wantErr: false,
		},
		{
			name: "test wrong HistoGramBuckets",
			change: func(c *Config) {
				c.HistogramMetricBucketsString = "5,10,abc"
			},
			wantErr: true,
			want:    errors.New(`unable to parse histogram-metric-buckets: strconv.ParseFloat: parsing "abc": invalid syntax`),
		},
		{
			name: "test conflicting tags",
			change: func(c *Config) {
				c.Tags = "partner,!partner"
			},
			wantErr: true,
		},
		{
			name: "test wrong flow id generator",
			change: func(c *Config) {
				c.FlowIDGenerator = "sequential"
			},
			wantErr: true,
			want:    errors.New("unknown flow id generator: sequential"),
		},
		{
			name: "test negative shutdown timeout",
			change: func(c *Config) {
				c.ShutdownTimeout = -time.Second
			},
			wantErr: true,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.change(cfg)
			err := validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("config.NewConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.want != nil && err != nil && err.Error() != tt.want.Error() {
				t.Errorf("Failed to get wanted error, got: %v, want: %v", err, tt.want)
			}
		})
	}
}

func Test_NewConfigWithArgs(t *testing.T) {
	for _, tt := range []struct {
		name    string
		args    []string
		want    *Config
		wantErr bool
	}{
		{
			name:    "test args len bigger than 0 throws an error",
			args:    []string{"apigw", "arg1"},
			wantErr: true,
		},
		{
			name:    "test non-existing config file throw an error",
			args:    []string{"apigw", "-config-file=non-existent.yaml"},
			wantErr: true,
		},
		{
			name: "test defaults",
			args: []string{"apigw"},
			want: defaultConfig(func(*Config) {}),
		},
		{
			name: "test only valid flag overwrite yaml file",
			args: []string{"apigw", "-config-file=testdata/test.yaml", "-address=localhost:8080", "-apis-file=testdata/more-apis.yaml"},
			want: defaultConfig(func(c *Config) {
				c.ConfigFile = "testdata/test.yaml"
				c.Address = "localhost:8080"
				c.APIsFiles = fileListFlag{"testdata/apis.yaml", "testdata/more-apis.yaml"}
				c.Tags = "internal,!partner"
				c.MetricsFlavour = &listFlag{
					sep:     ",",
					allowed: map[string]bool{"codahale": true, "prometheus": true},
					value:   "prometheus",
					values:  []string{"prometheus"},
				}
				c.EtcdUrls = &listFlag{
					sep:     ",",
					allowed: map[string]bool{},
					value:   "http://foo.test:2379,http://bar.test:2379",
					values:  []string{"http://foo.test:2379", "http://bar.test:2379"},
				}
				c.EtcdTimeout = 3 * time.Second
				c.RedisPassword = "set_from_file"
				c.ResponseHeaders = mapFlags{values: map[string]string{"X-Gateway": "apigw", "Server": ""}}
			}),
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(redisPasswordEnv, "")

			cfg := NewConfig()
			err := cfg.ParseArgs(tt.args[0], tt.args[1:])

			if (err != nil) != tt.wantErr {
				t.Fatalf("config.NewConfig() error: %v, wantErr: %v", err, tt.wantErr)
			}

			if !tt.wantErr {
				d := cmp.Diff(cfg, tt.want,
					cmp.AllowUnexported(listFlag{}, mapFlags{}),
					cmpopts.IgnoreFields(Config{}, "Flags"),
				)
				if d != "" {
					t.Errorf("config.NewConfig() want vs got:\n%s", d)
				}
			}
		})
	}
}

func Test_parseHistogramBuckets(t *testing.T) {
	for _, tt := range []struct {
		name    string
		args    string
		want    []float64
		wantErr bool
	}{
		{
			name: "test default",
			args: "",
			want: prometheus.DefBuckets,
		},
		{
			name: "test parse 1",
			args: "1",
			want: []float64{1},
		},
		{
			name: "test parse unsorted with spaces",
			args: "2, 1.5 ,1",
			want: []float64{1, 1.5, 2},
		},
		{
			name:    "test parse invalid",
			args:    "1,x",
			wantErr: true,
		}} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := new(Config)
			cfg.HistogramMetricBucketsString = tt.args

			got, err := cfg.parseHistogramBuckets()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
