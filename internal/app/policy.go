package app

import "github.com/dkeye/duocast/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a connection whose send queue is full.
type Policy interface {
	OnBackPressure(id domain.ConnID) BackpressureAction
}

// SimplePolicy disconnects slow members; their view of the room could not be kept consistent otherwise.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.ConnID) BackpressureAction {
	return KickMember
}
