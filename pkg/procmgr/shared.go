package procmgr

import "sync"

var (
	sharedOnce sync.Once
	shared     *Controller
)

// Shared returns the process-wide controller. Every installation in a
// process goes through it so that at most one ephemeral service exists.
func Shared() *Controller {
	sharedOnce.Do(func() {
		shared = NewController()
	})
	return shared
}
