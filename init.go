package srtio

import (
	"runtime"
	"sync"

	"go.uber.org/automaxprocs/maxprocs"
)

var maxprocsOnce sync.Once

// applyMinGOMAXPROCS lets automaxprocs size GOMAXPROCS to the visible
// cgroup CPU quota (once per process), then raises GOMAXPROCS back up to
// min if automaxprocs rounded below that floor. A no-op when min <= 0.
// Called from NewFacade, so every Facade/Server construction applies it;
// safe to call repeatedly.
func applyMinGOMAXPROCS(min int) {
	log := componentLogger("maxprocs")
	maxprocsOnce.Do(func() {
		if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
			log.Debug().Msgf(format, args...)
		})); err != nil {
			log.Warn().Err(err).Msg("automaxprocs set failed")
		}
	})
	if min <= 0 {
		return
	}
	if runtime.GOMAXPROCS(0) < min {
		runtime.GOMAXPROCS(min)
	}
}
