package domain

import "github.com/jonboulle/clockwork"

// clock stamps ReceivedAt on parsed strikes. Tests freeze it via SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source used when parsing feed messages. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}
