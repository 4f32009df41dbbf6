package observability

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/loomlab/loom/pkg/domain"
)

func TestMetrics_Hooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("tomography", reg)
	hooks := m.Hooks()
	ctx := context.Background()

	ev := &domain.NodeEvent{InstanceID: "i1", Node: "acquire", Kind: domain.KindControl}
	hooks.OnNodeFinish(ctx, ev)
	hooks.OnNodeFinish(ctx, ev)
	hooks.OnNodeRetry(ctx, ev)
	hooks.OnCheckpoint(ctx, ev)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.stepsTotal.WithLabelValues("acquire", "control")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retriesTotal.WithLabelValues("acquire")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkpoints))
}

func TestMetrics_AwaitingGaugeTracksSuspension(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("chat", reg)
	hooks := m.Hooks()
	ctx := context.Background()

	ev := &domain.NodeEvent{InstanceID: "i1", Node: "collect"}
	hooks.OnInterrupt(ctx, ev)
	hooks.OnInterrupt(ctx, ev)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.awaiting),
		"duplicate interrupts for one instance count once")

	hooks.OnNodeStart(ctx, ev)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.awaiting))
}

func TestCombine_FansOutAndSkipsNil(t *testing.T) {
	var aCalls, bCalls int
	combined := Combine(
		domain.LifecycleHooks{
			OnNodeFinish: func(context.Context, *domain.NodeEvent) { aCalls++ },
		},
		domain.LifecycleHooks{
			OnNodeFinish: func(context.Context, *domain.NodeEvent) { bCalls++ },
		},
		domain.LifecycleHooks{},
	)

	combined.OnNodeFinish(context.Background(), &domain.NodeEvent{})
	assert.Equal(t, 1, aCalls)
	assert.Equal(t, 1, bCalls)

	assert.Nil(t, combined.OnNodeRetry, "no listener registered a retry hook")
}
