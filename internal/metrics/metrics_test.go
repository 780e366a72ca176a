package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Commit("ns", nil)
		m.Notification("ns", true)
		m.ListenerPanic()
		m.RegistrationAdded()
		m.RegistrationRemoved()
		m.Emission("replay")
		m.SubscriberDelta("gated", 1)
	})
	assert.Nil(t, m.Registry())
}

func TestCountersAndGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Registry: reg})

	m.Commit("main", nil)
	m.Commit("main", nil)
	m.Commit("main", errors.New("boom"))
	m.Notification("main", false)
	m.Notification("main", true)
	m.RegistrationAdded()
	m.RegistrationAdded()
	m.RegistrationRemoved()
	m.Emission("gated")
	m.SubscriberDelta("replay", 3)
	m.SubscriberDelta("replay", -1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commitsTotal.WithLabelValues("main", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commitsTotal.WithLabelValues("main", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notificationsTotal.WithLabelValues("main", "external")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.registrations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emissionsTotal.WithLabelValues("gated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.subscribers.WithLabelValues("replay")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestDefaultNamespace(t *testing.T) {
	m := New(Config{})
	require.NotNil(t, m.Registry())

	m.Emission("replay")
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
	assert.Equal(t, "kprefs_binding_emissions_total", families[0].GetName())
}
