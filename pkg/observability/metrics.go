// Package observability exposes engine metrics and fans lifecycle hooks
// out to multiple listeners.
package observability

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loomlab/loom/pkg/domain"
)

// Metrics holds the Prometheus collectors for one workflow graph.
type Metrics struct {
	stepsTotal      *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	interruptsTotal *prometheus.CounterVec
	checkpoints     prometheus.Counter
	awaiting        prometheus.Gauge

	mu        sync.Mutex
	suspended map[string]struct{}
}

// NewMetrics creates and registers the engine collectors. Pass
// prometheus.DefaultRegisterer outside of tests.
func NewMetrics(workflow string, reg prometheus.Registerer) *Metrics {
	labels := prometheus.Labels{"workflow": workflow}

	m := &Metrics{
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "loom_steps_total",
			Help:        "Completed node executions, by node and kind.",
			ConstLabels: labels,
		}, []string{"node", "kind"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "loom_node_retries_total",
			Help:        "Node execution retries, by node.",
			ConstLabels: labels,
		}, []string{"node"}),
		interruptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "loom_interrupts_total",
			Help:        "Interrupt-gate suspensions, by node.",
			ConstLabels: labels,
		}, []string{"node"}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "loom_checkpoints_total",
			Help:        "Checkpoints written.",
			ConstLabels: labels,
		}),
		awaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "loom_instances_awaiting_input",
			Help:        "Instances currently suspended awaiting input.",
			ConstLabels: labels,
		}),
	}
	m.suspended = make(map[string]struct{})

	reg.MustRegister(m.stepsTotal, m.retriesTotal, m.interruptsTotal,
		m.checkpoints, m.awaiting)
	return m
}

// Hooks returns lifecycle hooks that feed the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeFinish: func(_ context.Context, ev *domain.NodeEvent) {
			m.stepsTotal.WithLabelValues(ev.Node, string(ev.Kind)).Inc()
		},
		OnNodeRetry: func(_ context.Context, ev *domain.NodeEvent) {
			m.retriesTotal.WithLabelValues(ev.Node).Inc()
		},
		OnInterrupt: func(_ context.Context, ev *domain.NodeEvent) {
			m.interruptsTotal.WithLabelValues(ev.Node).Inc()
			m.mu.Lock()
			if _, dup := m.suspended[ev.InstanceID]; !dup {
				m.suspended[ev.InstanceID] = struct{}{}
				m.awaiting.Inc()
			}
			m.mu.Unlock()
		},
		OnNodeStart: func(_ context.Context, ev *domain.NodeEvent) {
			// A node starting means any prior suspension was consumed.
			m.mu.Lock()
			if _, ok := m.suspended[ev.InstanceID]; ok {
				delete(m.suspended, ev.InstanceID)
				m.awaiting.Dec()
			}
			m.mu.Unlock()
		},
		OnCheckpoint: func(_ context.Context, ev *domain.NodeEvent) {
			m.checkpoints.Inc()
		},
	}
}

// Combine fans one event stream out to several hook sets, in order.
func Combine(hooks ...domain.LifecycleHooks) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeStart:  fan(hooks, func(h domain.LifecycleHooks) func(context.Context, *domain.NodeEvent) { return h.OnNodeStart }),
		OnNodeFinish: fan(hooks, func(h domain.LifecycleHooks) func(context.Context, *domain.NodeEvent) { return h.OnNodeFinish }),
		OnNodeRetry:  fan(hooks, func(h domain.LifecycleHooks) func(context.Context, *domain.NodeEvent) { return h.OnNodeRetry }),
		OnInterrupt:  fan(hooks, func(h domain.LifecycleHooks) func(context.Context, *domain.NodeEvent) { return h.OnInterrupt }),
		OnCheckpoint: fan(hooks, func(h domain.LifecycleHooks) func(context.Context, *domain.NodeEvent) { return h.OnCheckpoint }),
	}
}

func fan(hooks []domain.LifecycleHooks, pick func(domain.LifecycleHooks) func(context.Context, *domain.NodeEvent)) func(context.Context, *domain.NodeEvent) {
	var fns []func(context.Context, *domain.NodeEvent)
	for _, h := range hooks {
		if fn := pick(h); fn != nil {
			fns = append(fns, fn)
		}
	}
	if len(fns) == 0 {
		return nil
	}
	return func(ctx context.Context, ev *domain.NodeEvent) {
		for _, fn := range fns {
			fn(ctx, ev)
		}
	}
}
