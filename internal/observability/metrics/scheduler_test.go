package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simplecron/internal/task/scheduler"
	logx "simplecron/pkg/logx"
)

var _ scheduler.Recorder = (*SchedulerMetrics)(nil)

func TestSchedulerMetricsExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulerMetrics(reg)

	m.ObserveTick(2*time.Millisecond, 3)
	m.ObserveTick(time.Millisecond, 4)
	m.ObserveInvocation(10*time.Millisecond, nil)
	m.ObserveInvocation(time.Millisecond, errors.New("boom"))
	m.ObserveInvocation(time.Millisecond, nil)
	m.ObserveDriftReset(3 * time.Hour)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	assert.Equal(t, 2.0, value(t, mfs, "simplecron_ticks_total", "", ""))
	assert.Equal(t, 4.0, value(t, mfs, "simplecron_jobs", "", ""))
	assert.Equal(t, 2.0, value(t, mfs, "simplecron_invocations_total", "result", "ok"))
	assert.Equal(t, 1.0, value(t, mfs, "simplecron_invocations_total", "result", "failed"))
	assert.Equal(t, 1.0, value(t, mfs, "simplecron_drift_resets_total", "", ""))
	assert.Equal(t, (3 * time.Hour).Seconds(), value(t, mfs, "simplecron_last_drift_seconds", "", ""))

	h := find(mfs, "simplecron_invocation_duration_seconds")
	require.NotNil(t, h)
	assert.EqualValues(t, 3, h.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestNilRegistererDrops(t *testing.T) {
	m := NewSchedulerMetrics(nil)
	assert.NotPanics(t, func() {
		m.ObserveTick(time.Millisecond, 1)
		m.ObserveInvocation(time.Millisecond, nil)
		m.ObserveDriftReset(time.Hour)
	})
	var nilM *SchedulerMetrics
	assert.NotPanics(t, func() { nilM.ObserveTick(0, 0) })
}

func TestRecorderDrivenByScheduler(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := scheduler.New(scheduler.Config{TickInterval: time.Millisecond}, logx.Nop(), nil,
		scheduler.WithRecorder(NewSchedulerMetrics(reg)),
	)
	require.NoError(t, err)
	_, err = s.Schedule("@every 1h", func() {})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		mfs, err := reg.Gather()
		if err != nil {
			return false
		}
		mf := find(mfs, "simplecron_ticks_total")
		return mf != nil && mf.GetMetric()[0].GetCounter().GetValue() >= 3
	}, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, 1.0, value(t, mfs, "simplecron_jobs", "", ""))
	// The hourly job was armed but never due.
	assert.Nil(t, find(mfs, "simplecron_invocations_total"))
}

func value(t *testing.T, mfs []*dto.MetricFamily, name, label, want string) float64 {
	t.Helper()
	mf := find(mfs, name)
	require.NotNil(t, mf, "metric %q not found", name)
	for _, m := range mf.GetMetric() {
		if label != "" && !hasLabel(m.GetLabel(), label, want) {
			continue
		}
		switch {
		case m.GetCounter() != nil:
			return m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			return m.GetGauge().GetValue()
		}
	}
	require.Fail(t, fmt.Sprintf("metric %q missing label %s=%s", name, label, want))
	return 0
}

func find(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func hasLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, l := range labels {
		if l.GetName() == name && l.GetValue() == value {
			return true
		}
	}
	return false
}

func TestRegisterEventBus(t *testing.T) {
	reg := prometheus.NewRegistry()
	var dropped uint64 = 7
	RegisterEventBus(reg, func() uint64 { return dropped })
	RegisterEventBus(nil, func() uint64 { return 0 })

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Equal(t, 7.0, value(t, mfs, "simplecron_eventbus_dropped_total", "", ""))
}
