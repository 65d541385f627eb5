package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered returns the value of the named series whose labels include want.
func gathered(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("series %s %v not found", name, want)
	return 0
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Event("typing.start")
	m.Event("typing.start")
	m.EventDropped("rate_limited")
	m.SetOnlineUsers(3)
	m.Notification("message")

	assert.Equal(t, 2.0, gathered(t, reg, "neosocial_realtime_events_total", map[string]string{"event": "typing.start"}))
	assert.Equal(t, 1.0, gathered(t, reg, "neosocial_realtime_events_dropped_total", map[string]string{"reason": "rate_limited"}))
	assert.Equal(t, 3.0, gathered(t, reg, "neosocial_realtime_online_users", nil))
	assert.Equal(t, 1.0, gathered(t, reg, "neosocial_notifications_total", map[string]string{"type": "message"}))

	RegisterQueueDepth(reg, func() float64 { return 7 })
	assert.Equal(t, 7.0, gathered(t, reg, "neosocial_realtime_queue_depth", nil))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Event("x")
		m.EventDropped("x")
		m.OutboundDropped()
		m.SetConnections(1)
		m.SetOnlineUsers(1)
		m.MessageSent()
		m.Notification("like")
	})
}
