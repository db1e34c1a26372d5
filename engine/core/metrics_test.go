package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrameMetricsAverageWindow(t *testing.T) {
	m := NewFrameMetrics()

	for i := 0; i < AVG_COUNT; i++ {
		m.Update(10 * time.Millisecond)
	}
	assert.InDelta(t, 10.0, m.FrameTime(), 1e-9)

	// A full window of slower frames replaces the old samples entirely.
	for i := 0; i < AVG_COUNT; i++ {
		m.Update(20 * time.Millisecond)
	}
	assert.InDelta(t, 20.0, m.FrameTime(), 1e-9)
	assert.Equal(t, uint64(2*AVG_COUNT), m.TotalFrames())
}

func TestFrameMetricsFPS(t *testing.T) {
	m := NewFrameMetrics()
	assert.Zero(t, m.FPS())

	// 101 frames of 10ms cross the one second boundary once.
	for i := 0; i < 101; i++ {
		m.Update(10 * time.Millisecond)
	}
	fps, avg := m.Frame()
	assert.InDelta(t, 100.0, fps, 1.0)
	assert.InDelta(t, 10.0, avg, 1e-9)
}
