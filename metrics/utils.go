package metrics

import (
	"net/http"

	metrics "github.com/rcrowley/go-metrics"
)

const unknownMethod = "_unknownmethod_"

var measuredMethods = map[string]bool{
	http.MethodOptions: true,
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodTrace:   true,
	http.MethodConnect: true,
}

func newUniformSample() metrics.Sample {
	return metrics.NewUniformSample(defaultUniformReservoirSize)
}

func newExpDecaySample() metrics.Sample {
	return metrics.NewExpDecaySample(defaultExpDecayReservoirSize, defaultExpDecayAlpha)
}

func newTimer(sample metrics.Sample) metrics.Timer {
	return metrics.NewCustomTimer(metrics.NewHistogram(sample), metrics.NewMeter())
}

// measuredMethod limits the method label to the standard methods, so
// arbitrary client input doesn't create new series.
func measuredMethod(m string) string {
	if measuredMethods[m] {
		return m
	}

	return unknownMethod
}
