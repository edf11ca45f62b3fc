package session

import (
	"sync"
	"time"
)

// Detector fires a callback once no speech has been seen for the configured
// timeout. A zero timeout disables it.
type Detector struct {
	timeout time.Duration
	mu      sync.Mutex
	timer   *time.Timer
	onIdle  func()
	stopped bool
}

func NewDetector(timeout time.Duration) *Detector {
	if timeout < 0 {
		timeout = 0
	}
	return &Detector{timeout: timeout}
}

func (d *Detector) OnIdle(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onIdle = callback
}

// Touch restarts the idle countdown.
func (d *Detector) Touch() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timeout == 0 || d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.timeout, func() {
		d.mu.Lock()
		callback := d.onIdle
		d.timer = nil
		d.mu.Unlock()

		if callback != nil {
			callback()
		}
	})
}

func (d *Detector) Stop() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
