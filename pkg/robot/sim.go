package robot

import (
	"context"
	"sync"
	"time"
)

// DefaultMotion is the simulated duration of one pick or recovery.
const DefaultMotion = 3 * time.Second

const simStep = 10 * time.Millisecond

// SimArm is an Arm that only takes time. Paused time does not count towards
// a motion.
type SimArm struct {
	motion time.Duration

	mu     sync.Mutex
	paused bool
	gen    uint64 // bumped by Stop
	picks  map[string]int
}

// NewSimArm creates a simulated arm whose motions take d.
func NewSimArm(d time.Duration) *SimArm {
	if d <= 0 {
		d = DefaultMotion
	}
	return &SimArm{motion: d, picks: make(map[string]int)}
}

// Pick implements Mover.
func (a *SimArm) Pick(ctx context.Context, color string) error {
	a.mu.Lock()
	a.picks[color]++
	a.mu.Unlock()
	return a.run(ctx)
}

// Recover implements Recoverer.
func (a *SimArm) Recover(ctx context.Context) error {
	return a.run(ctx)
}

// Stop aborts every running motion.
func (a *SimArm) Stop() {
	a.mu.Lock()
	a.gen++
	a.paused = false
	a.mu.Unlock()
}

// Pause implements Pauser.
func (a *SimArm) Pause() {
	a.mu.Lock()
	a.paused = true
	a.mu.Unlock()
}

// Resume implements Pauser.
func (a *SimArm) Resume() {
	a.mu.Lock()
	a.paused = false
	a.mu.Unlock()
}

// Picks returns how many picks of color were started.
func (a *SimArm) Picks(color string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.picks[color]
}

func (a *SimArm) run(ctx context.Context) error {
	a.mu.Lock()
	gen := a.gen
	a.mu.Unlock()

	step := simStep
	if a.motion < step {
		step = a.motion
	}
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	var elapsed time.Duration
	for elapsed < a.motion {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		a.mu.Lock()
		stopped, paused := a.gen != gen, a.paused
		a.mu.Unlock()
		if stopped {
			return ErrStopped
		}
		if !paused {
			elapsed += step
		}
	}
	return nil
}
