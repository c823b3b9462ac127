package dispatch

import (
	"github.com/greendrake/ntrview/frame"
)

// Router sends top-screen frames to Primary and the rest to Secondary.
// A nil Secondary means both feeds share Primary.
type Router struct {
	Primary   Sink
	Secondary Sink
}

func (r Router) Replace(f *frame.Frame) bool {
	if f.IsPrimary || r.Secondary == nil {
		return r.Primary.Replace(f)
	}
	return r.Secondary.Replace(f)
}
