package channel

import (
	"fmt"
	"math"
)

// Kind distinguishes moving agents from fixed ones.
type Kind string

const (
	KindMobile     Kind = "mobile"
	KindStationary Kind = "stationary"
)

// MovementState applies to stationary agents only.
type MovementState string

const (
	StateSitting MovementState = "sitting"
	StateWalking MovementState = "walking"
)

// Vec2 is a 2-D vector in meters or meters per second.
type Vec2 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Norm returns the Euclidean length of v.
func (v Vec2) Norm() float64 {
	return math.Hypot(v.X, v.Y)
}

// Sub returns v - o.
func (v Vec2) Sub(o Vec2) Vec2 {
	return Vec2{X: v.X - o.X, Y: v.Y - o.Y}
}

// Agent is a party in the simulated cell. Any agent other than the
// transmitter that is transmitting acts as an interferer.
type Agent struct {
	ID                string        `json:"id" yaml:"id"`
	Kind              Kind          `json:"kind" yaml:"kind"`
	IsTransmitting    bool          `json:"isTransmitting" yaml:"is_transmitting"`
	InterferenceLevel float64       `json:"interferenceLevel" yaml:"interference_level"`
	Velocity          Vec2          `json:"velocity" yaml:"velocity"`
	Position          Vec2          `json:"position" yaml:"position"`
	MovementState     MovementState `json:"movementState,omitempty" yaml:"movement_state"`
}

// Mobile reports whether the agent moves.
func (a Agent) Mobile() bool {
	return a.Kind == KindMobile
}

// Validate checks the agent's fields.
func (a Agent) Validate() error {
	switch a.Kind {
	case KindMobile, KindStationary:
	default:
		return fmt.Errorf("%w: agent %q has unknown kind %q", ErrInvalidChannel, a.ID, a.Kind)
	}
	if math.IsNaN(a.InterferenceLevel) || a.InterferenceLevel < 0 || a.InterferenceLevel > 1 {
		return fmt.Errorf("%w: agent %q interference level %v outside [0,1]", ErrInvalidChannel, a.ID, a.InterferenceLevel)
	}
	switch a.MovementState {
	case "", StateSitting, StateWalking:
	default:
		return fmt.Errorf("%w: agent %q has unknown movement state %q", ErrInvalidChannel, a.ID, a.MovementState)
	}
	return nil
}

// Context is the interference picture seen by one transmission.
type Context struct {
	// Transmitter is nil when the transmission has no originating agent.
	Transmitter *Agent
	// Interferers holds every other agent that is transmitting.
	Interferers []Agent
	// Receiver is where interference is measured; the origin by default.
	Receiver Vec2
}

// NewContext splits agents into the transmitter identified by transmitterID
// and the active interferers.
func NewContext(agents []Agent, transmitterID string) Context {
	var ctx Context
	for i := range agents {
		a := agents[i]
		if transmitterID != "" && a.ID == transmitterID {
			tx := a
			ctx.Transmitter = &tx
			continue
		}
		if a.IsTransmitting {
			ctx.Interferers = append(ctx.Interferers, a)
		}
	}
	return ctx
}

// NeedsAvoidance reports whether any interferer is strong enough for the
// transmitter to vacate the center of the band.
func (c Context) NeedsAvoidance() bool {
	for _, a := range c.Interferers {
		if a.IsTransmitting && a.InterferenceLevel > AvoidanceLevel {
			return true
		}
	}
	return false
}

// DistanceFactor attenuates an interferer by its distance to the receiver:
// full strength within ReferenceDistance, inverse distance beyond it.
func (c Context) DistanceFactor(a Agent) float64 {
	d := a.Position.Sub(c.Receiver).Norm()
	if d <= ReferenceDistance {
		return 1
	}
	return ReferenceDistance / d
}
