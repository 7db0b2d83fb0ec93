package room

import "github.com/dkeye/roomlink/internal/domain"

// registry is the authoritative map of streams for one session. It is a
// plain struct on purpose: every access goes through the owning Room's
// mutex, keeping single-writer discipline. Ids are unique within each map
// independently.
type registry struct {
	local  map[domain.StreamID]*Stream
	remote map[domain.StreamID]*Stream
}

func newRegistry() registry {
	return registry{
		local:  make(map[domain.StreamID]*Stream),
		remote: make(map[domain.StreamID]*Stream),
	}
}

func (r *registry) clear() {
	r.local = make(map[domain.StreamID]*Stream)
	r.remote = make(map[domain.StreamID]*Stream)
}
