package processor_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/apigw/metrics/metricstest"
	"github.com/zalando/apigw/processor"
)

type execution struct {
	visited []string
}

func stage(name string, r processor.Result) processor.Stage[*execution] {
	return processor.NewStage(name, func(_ context.Context, e *execution) processor.Result {
		e.visited = append(e.visited, name)
		return r
	})
}

func TestChainOutcomes(t *testing.T) {
	teapot := processor.NewFailure(http.StatusTeapot, "TEAPOT", "I'm a teapot")

	for _, tt := range []struct {
		name     string
		stages   []processor.Stage[*execution]
		expected processor.OutcomeKind
		visited  []string
		status   int
	}{{
		name:     "empty chain",
		expected: processor.OutcomeSuccess,
	}, {
		name: "all continue",
		stages: []processor.Stage[*execution]{
			stage("a", processor.Continue()),
			stage("b", processor.Continue()),
		},
		expected: processor.OutcomeSuccess,
		visited:  []string{"a", "b"},
	}, {
		name: "first failure stops",
		stages: []processor.Stage[*execution]{
			stage("a", processor.Continue()),
			stage("b", processor.Fail(teapot)),
			stage("c", processor.Continue()),
		},
		expected: processor.OutcomeFailure,
		visited:  []string{"a", "b"},
		status:   http.StatusTeapot,
	}, {
		name: "exit stops",
		stages: []processor.Stage[*execution]{
			stage("a", processor.Exit()),
			stage("b", processor.Fail(teapot)),
		},
		expected: processor.OutcomeExit,
		visited:  []string{"a"},
	}, {
		name: "failure without failure value",
		stages: []processor.Stage[*execution]{
			stage("a", processor.Fail(nil)),
		},
		expected: processor.OutcomeFailure,
		visited:  []string{"a"},
		status:   http.StatusInternalServerError,
	}} {
		t.Run(tt.name, func(t *testing.T) {
			e := &execution{}
			o := processor.New("request", tt.stages, processor.Options{}).Handle(context.Background(), e)

			assert.Equal(t, tt.expected, o.Kind())
			if diff := cmp.Diff(tt.visited, e.visited); diff != "" {
				t.Errorf("visited stages mismatch (-want +got):\n%s", diff)
			}

			if tt.expected == processor.OutcomeFailure {
				require.NotNil(t, o.Failure())
				assert.Equal(t, tt.status, o.Failure().StatusCode)
			} else {
				assert.Nil(t, o.Failure())
			}
		})
	}
}

func TestChainRecoversPanic(t *testing.T) {
	stages := []processor.Stage[*execution]{
		stage("a", processor.Continue()),
		processor.NewStage("boom", func(context.Context, *execution) processor.Result {
			panic("boom")
		}),
		stage("c", processor.Continue()),
	}

	e := &execution{}
	o := processor.New("request", stages, processor.Options{}).Handle(context.Background(), e)

	require.Equal(t, processor.OutcomeFailure, o.Kind())
	assert.Equal(t, http.StatusInternalServerError, o.Failure().StatusCode)
	assert.Equal(t, processor.KeyStagePanic, o.Failure().Key)
	assert.Equal(t, []string{"a"}, e.visited)
}

func TestChainCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stages := []processor.Stage[*execution]{
		processor.NewStage("cancel", func(_ context.Context, e *execution) processor.Result {
			e.visited = append(e.visited, "cancel")
			cancel()
			return processor.Continue()
		}),
		stage("b", processor.Continue()),
	}

	e := &execution{}
	o := processor.New("request", stages, processor.Options{}).Handle(ctx, e)

	require.Equal(t, processor.OutcomeFailure, o.Kind())
	assert.Equal(t, processor.StatusClientClosedRequest, o.Failure().StatusCode)
	assert.Equal(t, processor.KeyRequestCancelled, o.Failure().Key)
	assert.ErrorIs(t, o.Failure(), context.Canceled)
	assert.Equal(t, []string{"cancel"}, e.visited)
}

func TestChainMetricsAndSpans(t *testing.T) {
	m := &metricstest.MockMetrics{}
	tr := mocktracer.New()

	c := processor.New("response", []processor.Stage[*execution]{
		stage("headers", processor.Continue()),
		stage("deny", processor.Fail(processor.NewFailure(http.StatusForbidden, "DENIED", ""))),
	}, processor.Options{API: "users", Metrics: m, Tracer: tr})

	assert.Equal(t, "response", c.Name())
	assert.Equal(t, []string{"headers", "deny"}, c.Stages())

	c.Handle(context.Background(), &execution{})

	assert.Equal(t, 1, m.Measures("stage.response.headers"))
	assert.Equal(t, 1, m.Measures("stage.response.deny"))
	assert.Equal(t, 1, m.Measures("chain.users.response"))

	spans := tr.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "response_chain", spans[0].OperationName)
	assert.Equal(t, true, spans[0].Tag("error"))
	assert.Equal(t, "DENIED", spans[0].Tag("apigw.error_key"))
}

func TestFailure(t *testing.T) {
	cause := errors.New("connection refused")

	f := processor.ProxyError(cause)
	assert.Equal(t, http.StatusBadGateway, f.StatusCode)
	assert.Equal(t, "Bad Gateway", f.Message)
	assert.Equal(t, processor.KeyProxyError, f.Key)
	assert.ErrorIs(t, f, cause)
	assert.Contains(t, f.Error(), "connection refused")

	wrapped := errors.Join(errors.New("other"), f)
	assert.Same(t, f, processor.AsFailure(wrapped))

	internal := processor.AsFailure(cause)
	assert.Equal(t, http.StatusInternalServerError, internal.StatusCode)
	assert.Equal(t, processor.KeyInternalError, internal.Key)

	assert.Nil(t, processor.AsFailure(nil))

	teapot := processor.NewFailure(http.StatusTeapot, "TEAPOT", "short and stout")
	withCause := teapot.WithCause(cause)
	assert.NotSame(t, teapot, withCause)
	assert.NoError(t, teapot.Unwrap())
	assert.ErrorIs(t, withCause, cause)
	assert.Equal(t, "418 TEAPOT: short and stout", teapot.Error())
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "continue", processor.ResultContinue.String())
	assert.Equal(t, "fail", processor.ResultFail.String())
	assert.Equal(t, "exit", processor.ResultExit.String())
	assert.Equal(t, "success", processor.OutcomeSuccess.String())
	assert.Equal(t, "failure", processor.OutcomeFailure.String())
	assert.Equal(t, "exit", processor.OutcomeExit.String())
}
