package core

import (
	"time"

	"github.com/spaghettifunk/raypath/engine/containers"
)

const AVG_COUNT int = 30

// FrameMetrics keeps a moving average of the frame time and a per-second frame count.
type FrameMetrics struct {
	samples            *containers.RingQueue[float64]
	sum                float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64
	total              uint64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{
		samples: containers.NewRingQueue[float64](AVG_COUNT),
	}
}

func (m *FrameMetrics) Update(frameElapsed time.Duration) {
	frameMS := float64(frameElapsed) / float64(time.Millisecond)

	// Calculate frame ms average
	if evicted, dropped := m.samples.Push(frameMS); dropped {
		m.sum -= evicted
	}
	m.sum += frameMS
	m.msAvg = m.sum / float64(m.samples.Len())

	// Calculate Frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	// Count all Frames.
	m.frames++
	m.total++
}

func (m *FrameMetrics) FPS() float64 {
	return m.fps
}

// FrameTime returns the average frame time in milliseconds.
func (m *FrameMetrics) FrameTime() float64 {
	return m.msAvg
}

func (m *FrameMetrics) Frame() (float64, float64) {
	return m.fps, m.msAvg
}

func (m *FrameMetrics) TotalFrames() uint64 {
	return m.total
}
