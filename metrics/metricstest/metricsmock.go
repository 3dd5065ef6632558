package metricstest

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/zalando/apigw/metrics"
)

// MockMetrics records every measurement under the Coda Hale keys, for
// inspection in tests.
type MockMetrics struct {
	Prefix string

	mu sync.Mutex

	// Metrics gathering
	counters map[string]int64
	measures map[string][]time.Duration
	Now      time.Time
}

var _ metrics.Metrics = (*MockMetrics)(nil)

//
// Public thread safe access to metrics
//

func (m *MockMetrics) WithCounters(f func(counters map[string]int64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]int64)
	}
	f(m.counters)
}

func (m *MockMetrics) WithMeasures(f func(measures map[string][]time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.measures == nil {
		m.measures = make(map[string][]time.Duration)
	}
	f(m.measures)
}

// Counter returns the current value of a counter, and whether it was
// ever incremented.
func (m *MockMetrics) Counter(key string) (v int64, ok bool) {
	m.WithCounters(func(counters map[string]int64) {
		v, ok = counters[key]
	})
	return
}

// Measures returns the number of measurements recorded under key.
func (m *MockMetrics) Measures(key string) (n int) {
	m.WithMeasures(func(measures map[string][]time.Duration) {
		n = len(measures[key])
	})
	return
}

func (m *MockMetrics) measureSince(key string, start time.Time) {
	now := m.Now
	if now.IsZero() {
		now = time.Now()
	}

	key = m.Prefix + key
	m.WithMeasures(func(measures map[string][]time.Duration) {
		measures[key] = append(measures[key], now.Sub(start))
	})
}

func (m *MockMetrics) incCounter(key string) {
	key = m.Prefix + key
	m.WithCounters(func(counters map[string]int64) {
		counters[key] += 1
	})
}

//
// Interface Metrics
//

func (m *MockMetrics) MeasureStage(chain, stage string, start time.Time) {
	m.measureSince(fmt.Sprintf(metrics.KeyStage, chain, stage), start)
}

func (m *MockMetrics) MeasureChain(api, chain string, start time.Time) {
	m.measureSince(fmt.Sprintf(metrics.KeyChain, api, chain), start)
}

func (m *MockMetrics) MeasureBackend(api, endpoint string, start time.Time) {
	m.measureSince(fmt.Sprintf(metrics.KeyBackend, api, endpoint), start)
}

func (m *MockMetrics) MeasureServe(api, method string, code int, start time.Time) {
	m.measureSince(fmt.Sprintf(metrics.KeyServe, api, method, code), start)
}

func (m *MockMetrics) IncErrors(api, key string) {
	m.incCounter(fmt.Sprintf(metrics.KeyErrors, api, key))
}

func (m *MockMetrics) IncEndpointUnavailable(api string) {
	m.incCounter(fmt.Sprintf(metrics.KeyEndpointUnavailable, api))
}

func (*MockMetrics) RegisterHandler(string, *http.ServeMux) {}
