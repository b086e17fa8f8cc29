package client

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	cycles   *prometheus.CounterVec
	queued   prometheus.Counter
	replayed prometheus.Counter
	rejected prometheus.Counter
	duration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessync",
			Name:      "refresh_cycles_total",
			Help:      "Refresh cycles by outcome.",
		}, []string{"outcome"}),
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessync",
			Name:      "requests_queued_total",
			Help:      "Unauthorized requests queued behind a refresh cycle.",
		}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessync",
			Name:      "requests_replayed_total",
			Help:      "Requests re-sent with a refreshed access token.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessync",
			Name:      "requests_rejected_total",
			Help:      "Queued requests rejected because their refresh cycle failed.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sessync",
			Name:      "refresh_duration_seconds",
			Help:      "Time from the first 401 of a cycle until the cycle settled.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	var err error
	m.cycles, err = register(reg, m.cycles)
	if err != nil {
		return nil, err
	}
	if m.queued, err = register(reg, m.queued); err != nil {
		return nil, err
	}
	if m.replayed, err = register(reg, m.replayed); err != nil {
		return nil, err
	}
	if m.rejected, err = register(reg, m.rejected); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

// register adopts an identical collector that is already registered, so two
// coordinators can share one registerer.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
