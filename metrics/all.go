package metrics

import (
	"net/http"
	"strings"
	"time"
)

// All collects the metrics in both formats.
type All struct {
	prometheus *Prometheus
	codaHale   *CodaHale
}

func NewAll(o Options) *All {
	return &All{
		prometheus: NewPrometheus(o),
		codaHale:   NewCodaHale(o),
	}
}

func (a *All) MeasureStage(chain, stage string, start time.Time) {
	a.prometheus.MeasureStage(chain, stage, start)
	a.codaHale.MeasureStage(chain, stage, start)
}

func (a *All) MeasureChain(api, chain string, start time.Time) {
	a.prometheus.MeasureChain(api, chain, start)
	a.codaHale.MeasureChain(api, chain, start)
}

func (a *All) MeasureBackend(api, endpoint string, start time.Time) {
	a.prometheus.MeasureBackend(api, endpoint, start)
	a.codaHale.MeasureBackend(api, endpoint, start)
}

func (a *All) MeasureServe(api, method string, code int, start time.Time) {
	a.prometheus.MeasureServe(api, method, code, start)
	a.codaHale.MeasureServe(api, method, code, start)
}

func (a *All) IncErrors(api, key string) {
	a.prometheus.IncErrors(api, key)
	a.codaHale.IncErrors(api, key)
}

func (a *All) IncEndpointUnavailable(api string) {
	a.prometheus.IncEndpointUnavailable(api)
	a.codaHale.IncEndpointUnavailable(api)
}

// RegisterHandler serves the Coda Hale metrics in JSON, unless the
// client accepts the Prometheus text format.
func (a *All) RegisterHandler(path string, mux *http.ServeMux) {
	promHandler := a.prometheus.getHandler()
	codaHaleHandler := a.codaHale.getHandler(path)
	mux.Handle(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Accept"), "text/plain") {
			promHandler.ServeHTTP(w, r)
			return
		}

		codaHaleHandler.ServeHTTP(w, r)
	}))
}
