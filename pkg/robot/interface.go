// Package robot is the robot side of the command protocol: it interprets
// session commands, drives an arm and reports completion on isDone.
//
// The interfaces are small so a simulated arm and a real one can share the
// controller.
package robot

import (
	"context"
	"errors"
	"time"
)

// ErrStopped is returned by a motion that was stopped before it finished.
var ErrStopped = errors.New("robot: motion stopped")

// Mover runs the pick sequence for one pipe color.
type Mover interface {
	Pick(ctx context.Context, color string) error
}

// Pauser suspends and continues the running motion.
type Pauser interface {
	Pause()
	Resume()
}

// Recoverer aborts the running motion and runs the recovery sequence.
type Recoverer interface {
	Stop()
	Recover(ctx context.Context) error
}

// Arm is everything the controller needs from the hardware.
type Arm interface {
	Mover
	Pauser
	Recoverer
}

// AckSender reports whether the motion started by the command at origin has
// completed.
type AckSender interface {
	SendAck(done bool, origin time.Time) error
}
