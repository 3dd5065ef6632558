package apigw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	ot "github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zalando/apigw/circuit"
	"github.com/zalando/apigw/connector"
	"github.com/zalando/apigw/definition"
	"github.com/zalando/apigw/discovery"
	"github.com/zalando/apigw/endpoint"
	"github.com/zalando/apigw/invoker"
	"github.com/zalando/apigw/logging"
	"github.com/zalando/apigw/metrics"
	"github.com/zalando/apigw/processor"
	"github.com/zalando/apigw/reactor"
	"github.com/zalando/apigw/stages"
	"github.com/zalando/apigw/tags"
	"github.com/zalando/apigw/tracing"
)

const (
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultReadHeaderTimeout = 60 * time.Second
	defaultEtcdTimeout       = 2 * time.Second
)

// Options to start the gateway.
type Options struct {
	// Network address that the gateway should listen on.
	Address string

	// Network address of the /metrics endpoint. When empty, no support
	// listener is started.
	SupportListener string

	// Sharding tags of the gateway, e.g. "internal,!partner".
	Tags string

	// Files with the API definitions.
	APIsFiles []string

	// API definitions, in addition to the ones loaded from APIsFiles.
	APIs []definition.API

	// Output for the application log entries, when nil, os.Stderr is
	// used.
	ApplicationLogOutput io.Writer

	// Prefix for the application log entries.
	ApplicationLogPrefix string

	// Level of the application log.
	ApplicationLogLevel log.Level

	// Application log in JSON format.
	ApplicationLogJSONEnabled bool

	// Output for the access log entries, when nil, os.Stderr is used.
	AccessLogOutput io.Writer

	// Disables the access log.
	AccessLogDisabled bool

	// Access log in JSON format.
	AccessLogJSONEnabled bool

	// Dial timeout of the backend connections.
	BackendTimeout time.Duration

	// Time to wait for the backend response headers.
	ResponseHeaderTimeout time.Duration

	// Maximum idle connections per backend host.
	IdleConnectionsPerHost int

	// Period of closing the idle backend connections. Disabled when
	// zero.
	CloseIdleConnsPeriod time.Duration

	// Default circuit breaker of the endpoints. Disabled when the
	// number of failures is zero.
	BreakerFailures         int
	BreakerTimeout          time.Duration
	BreakerHalfOpenRequests int

	// Etcd discovery, disabled when no URL is set.
	EtcdUrls    []string
	EtcdPrefix  string
	EtcdTimeout time.Duration

	// Redis discovery, disabled when no address is set.
	RedisAddress           string
	RedisPassword          string
	RedisPrefix            string
	RedisDiscoveryInterval time.Duration

	// Tracer name and arguments, e.g. ["basic", "sample-modulo=10"].
	// Defaults to noop.
	OpenTracing []string

	// Metrics formats: codahale, prometheus or both.
	MetricsFlavours []string

	// Prefix of the metric keys.
	MetricsPrefix string

	EnableRuntimeMetrics bool

	// Histogram buckets of the Prometheus metrics.
	HistogramMetricBuckets []float64

	// Use exponentially decaying samples in the Coda Hale timers.
	MetricsUseExpDecaySample bool

	// Generator of the request ids: uuid, ulid or standard.
	FlowIDGenerator string

	// When set, a valid incoming X-Flow-Id is used as the request id.
	ReuseFlowID bool

	// Headers set on every client response. An empty value removes the
	// header.
	ResponseHeaders map[string]string

	// Time given to the in-flight requests on shutdown.
	ShutdownTimeout time.Duration

	// Custom metrics, replacing the ones created from the metrics
	// options.
	Metrics metrics.Metrics

	// Custom tracer, replacing the one created from OpenTracing.
	Tracer ot.Tracer
}

func (o *Options) breaker() circuit.BreakerSettings {
	if o.BreakerFailures <= 0 {
		return circuit.BreakerSettings{}
	}

	return circuit.BreakerSettings{
		Type:             circuit.ConsecutiveFailures,
		Failures:         o.BreakerFailures,
		Timeout:          o.BreakerTimeout,
		HalfOpenRequests: o.BreakerHalfOpenRequests,
	}
}

func (o *Options) createMetrics() (metrics.Metrics, error) {
	if o.Metrics != nil {
		return o.Metrics, nil
	}

	kind, err := metrics.ParseMetricsKind(strings.Join(o.MetricsFlavours, ","))
	if err != nil {
		return nil, err
	}

	return metrics.New(metrics.Options{
		Format:               kind,
		Prefix:               o.MetricsPrefix,
		EnableRuntimeMetrics: o.EnableRuntimeMetrics,
		HistogramBuckets:     o.HistogramMetricBuckets,
		UseExpDecaySample:    o.MetricsUseExpDecaySample,
	}), nil
}

type api struct {
	definition definition.API
	handler    *reactor.Handler
	endpoints  *endpoint.Manager
}

// Gateway serves the APIs matching the sharding tags, routing the
// requests by context path.
type Gateway struct {
	apis       []*api
	router     *router
	dispatcher *discovery.Dispatcher
	metrics    metrics.Metrics
}

// New creates the handlers of the APIs. The APIs with tags not matching
// the sharding tags of the gateway are skipped.
func New(o Options) (*Gateway, error) {
	gatewayTags, err := tags.Parse(o.Tags)
	if err != nil {
		return nil, err
	}

	apis := slices.Clone(o.APIs)
	for _, f := range o.APIsFiles {
		loaded, err := definition.LoadFile(f)
		if err != nil {
			return nil, err
		}

		apis = append(apis, loaded...)
	}

	mtr, err := o.createMetrics()
	if err != nil {
		return nil, err
	}

	tracer := o.Tracer
	if tracer == nil {
		tracer = &ot.NoopTracer{}
	}

	gen, err := stages.NewGenerator(o.FlowIDGenerator)
	if err != nil {
		return nil, err
	}

	registry := connector.NewRegistry(connector.NewHTTPFactory(connector.HTTPOptions{
		Timeout:                o.BackendTimeout,
		ResponseHeaderTimeout:  o.ResponseHeaderTimeout,
		IdleConnectionsPerHost: o.IdleConnectionsPerHost,
		CloseIdleConnsPeriod:   o.CloseIdleConnsPeriod,
		Breaker:                o.breaker(),
	}))

	g := &Gateway{
		router:     newRouter(),
		dispatcher: discovery.NewDispatcher(),
		metrics:    mtr,
	}

	for _, d := range apis {
		if !gatewayTags.Matches(d.Tags) {
			log.Infof("API %s not deployed, its tags %v don't match the gateway tags %s", d.ID, d.Tags, gatewayTags)
			continue
		}

		a := newAPI(o, d, registry, gatewayTags, gen, mtr, tracer)
		if err := g.router.add(d.ContextPath, a.handler); err != nil {
			return nil, fmt.Errorf("API %s: %w", d.ID, err)
		}

		g.apis = append(g.apis, a)
	}

	return g, nil
}

func newAPI(
	o Options,
	d definition.API,
	registry *connector.Registry,
	gatewayTags *tags.Configuration,
	gen stages.Generator,
	mtr metrics.Metrics,
	tracer ot.Tracer,
) *api {
	m := endpoint.NewManager(endpoint.Options{
		API:        d.ID,
		Groups:     d.EndpointGroups,
		Connectors: registry,
		Tags:       gatewayTags,
	})

	co := processor.Options{API: d.ID, Metrics: mtr, Tracer: tracer}
	request := processor.New("request", []reactor.Stage{
		stages.RequestID(gen, o.ReuseFlowID),
		stages.NormalizePath(),
		stages.SelectFlows(d.Flows),
	}, co)

	var responseStages []reactor.Stage
	if len(o.ResponseHeaders) > 0 {
		responseStages = append(responseStages, stages.ResponseHeaders(o.ResponseHeaders))
	}

	response := processor.New("response", responseStages, co)
	errorChain := processor.New("error", []reactor.Stage{stages.RenderError()}, co)

	h := reactor.New(reactor.Params{
		API:           d.ID,
		ContextPath:   d.ContextPath,
		RequestChain:  request,
		ResponseChain: response,
		ErrorChain:    errorChain,
		Invoker:       invoker.New(invoker.Options{API: d.ID, Endpoints: m, Metrics: mtr}),
		GroupManager:  m,
		Log:           logging.New().WithFields(map[string]interface{}{"api": d.ID}),
		Metrics:       mtr,
		Tracer:        tracer,
	})

	return &api{definition: d, handler: h, endpoints: m}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

// Dispatcher routes the discovered endpoints to the APIs of the
// gateway. The APIs are registered once started.
func (g *Gateway) Dispatcher() *discovery.Dispatcher { return g.dispatcher }

// Groups returns the endpoint groups of the deployed APIs.
func (g *Gateway) Groups() []discovery.GroupKey {
	var keys []discovery.GroupKey
	for _, a := range g.apis {
		for _, eg := range a.definition.EndpointGroups {
			keys = append(keys, discovery.GroupKey{API: a.definition.ID, Group: eg.Name})
		}
	}

	return keys
}

// Start starts the APIs in order. When one fails, the ones already
// started are stopped.
func (g *Gateway) Start(ctx context.Context) error {
	for i, a := range g.apis {
		if err := a.handler.Start(ctx); err != nil {
			g.stop(ctx, g.apis[:i])
			return err
		}

		g.dispatcher.Register(a.definition.ID, a.endpoints)
		log.Infof("API %s started on %s", a.definition.ID, a.definition.ContextPath)
	}

	return nil
}

// Stop stops the APIs in reverse order.
func (g *Gateway) Stop(ctx context.Context) error {
	return g.stop(ctx, g.apis)
}

func (g *Gateway) stop(ctx context.Context, apis []*api) error {
	var errs []error
	for _, a := range slices.Backward(apis) {
		g.dispatcher.Unregister(a.definition.ID)
		if err := a.handler.Stop(ctx); err != nil {
			log.Errorf("Failed to stop API %s: %v", a.definition.ID, err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (o *Options) discoverySources(g *Gateway) ([]discovery.Source, func(), error) {
	var (
		sources []discovery.Source
		closers []func() error
	)

	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Errorf("Failed to close the discovery client: %v", err)
			}
		}
	}

	if len(o.EtcdUrls) > 0 {
		timeout := o.EtcdTimeout
		if timeout <= 0 {
			timeout = defaultEtcdTimeout
		}

		c, err := discovery.NewEtcdClient(o.EtcdUrls, timeout)
		if err != nil {
			return nil, nil, err
		}

		closers = append(closers, c.Close)
		sources = append(sources, discovery.NewEtcdSource(discovery.EtcdOptions{Client: c, Prefix: o.EtcdPrefix}))
	}

	if o.RedisAddress != "" {
		c := discovery.NewRedisClient(o.RedisAddress, o.RedisPassword)
		closers = append(closers, c.Close)
		sources = append(sources, discovery.NewRedisSource(discovery.RedisOptions{
			Client:   c,
			Prefix:   o.RedisPrefix,
			Interval: o.RedisDiscoveryInterval,
			Groups:   g.Groups(),
		}))
	}

	return sources, cleanup, nil
}

func serve(srv *http.Server) error {
	log.Infof("Listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listener %s failed: %w", srv.Addr, err)
	}

	return nil
}

// Run starts the gateway and serves the APIs until the context is
// canceled. On cancellation, the listeners are shut down gracefully,
// and the APIs are stopped.
func Run(ctx context.Context, o Options) error {
	logging.Init(logging.Options{
		ApplicationLogPrefix:      o.ApplicationLogPrefix,
		ApplicationLogOutput:      o.ApplicationLogOutput,
		ApplicationLogLevel:       o.ApplicationLogLevel,
		ApplicationLogJSONEnabled: o.ApplicationLogJSONEnabled,
		AccessLogOutput:           o.AccessLogOutput,
		AccessLogDisabled:         o.AccessLogDisabled,
		AccessLogJSONEnabled:      o.AccessLogJSONEnabled,
	})

	if o.Tracer == nil {
		opts := o.OpenTracing
		if len(opts) == 0 {
			opts = []string{"noop"}
		}

		tracer, err := tracing.Init(opts)
		if err != nil {
			return err
		}

		defer tracing.Close(tracer)
		o.Tracer = tracer
	}

	g, err := New(o)
	if err != nil {
		return err
	}

	if err := g.Start(ctx); err != nil {
		return err
	}

	sources, cleanup, err := o.discoverySources(g)
	if err != nil {
		g.Stop(context.Background())
		return err
	}

	defer cleanup()

	shutdownTimeout := o.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	servers := []*http.Server{{
		Addr:              o.Address,
		Handler:           g,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}}

	if o.SupportListener != "" {
		mux := http.NewServeMux()
		g.metrics.RegisterHandler("/metrics", mux)
		servers = append(servers, &http.Server{
			Addr:              o.SupportListener,
			Handler:           mux,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
		})
	}

	eg, ectx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		eg.Go(func() error { return serve(srv) })
	}

	if len(sources) > 0 {
		eg.Go(func() error { return discovery.Run(ectx, g.Dispatcher(), sources...) })
	}

	eg.Go(func() error {
		<-ectx.Done()
		log.Infof("Shutting down, waiting up to %s for the in-flight requests", shutdownTimeout)

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	})

	err = eg.Wait()
	if serr := g.Stop(context.Background()); serr != nil {
		err = errors.Join(err, serr)
	}

	return err
}
