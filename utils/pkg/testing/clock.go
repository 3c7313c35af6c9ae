package gltesting

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Epoch is the fixed start time used by engine tests.
var Epoch = time.Unix(1660032700, 0).UTC()

func NewClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(Epoch)
}
