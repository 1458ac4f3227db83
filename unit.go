package handoffz

import (
	"context"
	"fmt"
)

// unitKeyType is a private type for context keys to avoid collisions.
type unitKeyType string

const (
	unitKey unitKeyType = "handoffz.unit"
)

// SwitchListener observes every change of a unit's current span.
type SwitchListener func(from, to *Span)

// Unit is one execution unit: a goroutine or pool worker with its own
// current-span slot. A Unit is owned by one goroutine at a time and does
// no locking; pooled workers keep their Unit across tasks.
type Unit struct {
	current   *Span
	name      string
	listeners []SwitchListener
	handoffs  []handoff
}

// handoff remembers what a unit had ambient before a carrier was installed.
type handoff struct {
	carrier  *Carrier
	previous *Span
}

// NewUnit creates an execution unit with no ambient span.
func NewUnit(name string) *Unit {
	return &Unit{name: name}
}

// Name returns the unit name given at construction.
func (u *Unit) Name() string {
	return u.name
}

// Current returns the ambient span, or nil.
func (u *Unit) Current() *Span {
	return u.current
}

// SetCurrent replaces the ambient span. Passing nil clears it.
// Listeners run after the slot is written.
func (u *Unit) SetCurrent(span *Span) {
	from := u.current
	u.current = span
	for _, l := range u.listeners {
		l(from, span)
	}
}

// OnSwitch registers a listener for ambient span changes.
func (u *Unit) OnSwitch(l SwitchListener) {
	if l == nil {
		return
	}
	u.listeners = append(u.listeners, l)
}

// Pending returns the number of installed hand-offs awaiting restore.
func (u *Unit) Pending() int {
	return len(u.handoffs)
}

// clear empties the slot without notifying listeners.
func (u *Unit) clear() {
	u.current = nil
}

func (u *Unit) find(c *Carrier) int {
	for i := len(u.handoffs) - 1; i >= 0; i-- {
		if u.handoffs[i].carrier == c {
			return i
		}
	}
	return -1
}

func (u *Unit) push(c *Carrier, previous *Span) {
	u.handoffs = append(u.handoffs, handoff{carrier: c, previous: previous})
}

// popTo removes entry i and everything installed after it.
func (u *Unit) popTo(i int) handoff {
	h := u.handoffs[i]
	for j := i; j < len(u.handoffs); j++ {
		u.handoffs[j] = handoff{}
	}
	u.handoffs = u.handoffs[:i]
	return h
}

// restoreAmbient writes previous back as the unit's current span. If that
// panics the slot is force-cleared and ErrRestoreFailure is returned.
func restoreAmbient(u *Unit, previous *Span) (err error) {
	defer func() {
		if r := recover(); r != nil {
			u.clear()
			err = fmt.Errorf("%w: %v", ErrRestoreFailure, r)
		}
	}()
	u.SetCurrent(previous)
	return nil
}

// WithUnit returns a context bound to the given execution unit.
func WithUnit(parent context.Context, u *Unit) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, unitKey, u)
}

// UnitFromContext extracts the execution unit from a context.
// Returns nil if none is bound.
func UnitFromContext(ctx context.Context) *Unit {
	if ctx == nil {
		return nil
	}
	if u, ok := ctx.Value(unitKey).(*Unit); ok {
		return u
	}
	return nil
}

// GetSpan returns the ambient span of the unit bound to ctx.
// Returns nil if no unit or no span is present.
func GetSpan(ctx context.Context) *Span {
	if u := UnitFromContext(ctx); u != nil {
		return u.current
	}
	return nil
}
