package core

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DisconnectSubscriber
	DropEvent
)

// Policy decides what happens to a subscriber whose outbound queue is
// full. A slow subscriber must never stall the room.
type Policy interface {
	OnBackpressure(sub Subscriber) BackpressureAction
}

// SimplePolicy disconnects slow subscribers; they re-sync from a
// snapshot on reconnect.
type SimplePolicy struct{}

func (SimplePolicy) OnBackpressure(sub Subscriber) BackpressureAction {
	return DisconnectSubscriber
}
