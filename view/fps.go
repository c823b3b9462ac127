package view

import (
	"sync"
	"time"
)

// FPSMeter counts shown frames in one-second windows. FPS reports the last completed
// window, and zero once frames have stopped for a whole window.
type FPSMeter struct {
	mu    sync.Mutex
	now   func() time.Time
	start time.Time
	count int
	last  float64
}

func NewFPSMeter() *FPSMeter {
	return &FPSMeter{now: time.Now}
}

func (m *FPSMeter) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roll(m.now())
	m.count++
}

func (m *FPSMeter) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roll(m.now())
	return m.last
}

func (m *FPSMeter) roll(now time.Time) {
	if m.start.IsZero() {
		m.start = now
		return
	}
	elapsed := now.Sub(m.start)
	if elapsed < time.Second {
		return
	}
	if elapsed < 2*time.Second {
		m.last = float64(m.count) / elapsed.Seconds()
	} else {
		// The window before this one was empty
		m.last = 0
	}
	m.start = now
	m.count = 0
}
