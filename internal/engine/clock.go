package engine

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Clock is the time source used to stamp orders on arrival.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

var unixEpoch = time.Unix(0, 0)

// stamp reads the clock once. A clock behind the unix epoch cannot produce a
// valid order timestamp and takes the process down.
func stamp(clock Clock) time.Time {
	now := clock.Now()
	if now.Before(unixEpoch) {
		log.Panic().Time("now", now).Msg("clock went backwards past the unix epoch")
	}
	return now
}
