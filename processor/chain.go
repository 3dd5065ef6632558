/*
Package processor implements the chains of stages executed around the
backend call of a request.

A chain runs its stages in order. Every stage returns one of three
results: continue with the next stage, fail with a Failure, or exit.
Exiting stops the chain without a failure, and the response prepared by
the stages so far is sent to the client as is. Running a chain always
produces exactly one Outcome: success when every stage continued, the
first failure, or the first exit.

The same chain type is used for the request, the response and the error
stages of an API, with different stage sets. A panicking stage doesn't
escape the chain, it is turned into an internal failure.
*/
package processor

import (
	"context"
	"fmt"
	"runtime"
	"time"

	ot "github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"

	"github.com/zalando/apigw/metrics"
	"github.com/zalando/apigw/tracing"
)

// Stage is a single step of a chain, executed on the context type C of
// the request.
type Stage[C any] interface {
	Name() string
	Process(ctx context.Context, c C) Result
}

type stageFunc[C any] struct {
	name string
	fn   func(context.Context, C) Result
}

func (s stageFunc[C]) Name() string                            { return s.name }
func (s stageFunc[C]) Process(ctx context.Context, c C) Result { return s.fn(ctx, c) }

// NewStage creates a stage from a function.
func NewStage[C any](name string, fn func(context.Context, C) Result) Stage[C] {
	return stageFunc[C]{name: name, fn: fn}
}

// Options of a chain.
type Options struct {
	// API is the id of the API the chain belongs to, used as the metrics
	// label.
	API string

	// Metrics receives the duration of the stages and of the chain.
	// Defaults to metrics.Void.
	Metrics metrics.Metrics

	// Tracer creates a span for every execution of the chain. Defaults
	// to the noop tracer.
	Tracer ot.Tracer
}

// Chain is an ordered set of stages.
type Chain[C any] struct {
	name     string
	spanName string
	stages   []Stage[C]
	api      string
	metrics  metrics.Metrics
	tracer   ot.Tracer
}

// New creates a chain. The name appears in the logs, the metrics and
// the span name of the chain.
func New[C any](name string, stages []Stage[C], o Options) *Chain[C] {
	if o.Metrics == nil {
		o.Metrics = metrics.Void
	}

	if o.Tracer == nil {
		o.Tracer = &ot.NoopTracer{}
	}

	return &Chain[C]{
		name:     name,
		spanName: name + "_chain",
		stages:   stages,
		api:      o.API,
		metrics:  o.Metrics,
		tracer:   o.Tracer,
	}
}

func (c *Chain[C]) Name() string { return c.name }

// Stages returns the names of the stages in execution order.
func (c *Chain[C]) Stages() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}

	return names
}

// Handle runs the stages on the request context x.
func (c *Chain[C]) Handle(ctx context.Context, x C) Outcome {
	start := time.Now()
	span := tracing.CreateSpan(c.spanName, ctx, c.tracer)
	ctx = ot.ContextWithSpan(ctx, span)
	defer func() {
		span.Finish()
		c.metrics.MeasureChain(c.api, c.name, start)
	}()

	for _, s := range c.stages {
		if err := ctx.Err(); err != nil {
			span.SetTag(tracing.ClientRequestStateTag, tracing.ClientRequestCanceled)
			return failed(Cancelled(err))
		}

		r := c.process(ctx, s, x)
		switch r.Kind() {
		case ResultContinue:
		case ResultExit:
			span.LogKV("event", "exit", "stage", s.Name())
			return exited()
		default:
			f := r.Failure()
			if f == nil {
				f = InternalError(KeyInternalError, fmt.Errorf("stage %s failed without a failure", s.Name()))
			}

			tracing.SetError(span, f)
			span.SetTag(tracing.ErrorKeyTag, f.Key)
			return failed(f)
		}
	}

	return success()
}

func (c *Chain[C]) process(ctx context.Context, s Stage[C], x C) (r Result) {
	start := time.Now()
	defer c.metrics.MeasureStage(c.name, s.Name(), start)

	tryCatch(func() {
		r = s.Process(ctx, x)
	}, func(err interface{}, stack string) {
		log.Errorf("stage %s of chain %s panicked: %v\n%s", s.Name(), c.name, err, stack)
		r = Fail(InternalError(KeyStagePanic, fmt.Errorf("stage %s: %v", s.Name(), err)))
	})

	return
}

func tryCatch(p func(), onErr func(err interface{}, stack string)) {
	defer func() {
		if err := recover(); err != nil {
			buf := make([]byte, 1024)
			l := runtime.Stack(buf, false)
			onErr(err, string(buf[:l]))
		}
	}()

	p()
}
