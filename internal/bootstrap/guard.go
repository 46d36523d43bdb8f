package bootstrap

import "github.com/rk-labs/pulse/internal/log"

// A guard releases one acquired resource.
type guard struct {
	name    string
	release func()
}

// guards is a stack of acquired resources. Unless relieved, everything on
// it is released in the reverse order of acquisition.
type guards []guard

func (g *guards) push(name string, release func()) {
	log.Debug("bootstrap: acquired", "resource", name)
	*g = append(*g, guard{name, release})
}

// release releases every resource, last acquired first, and empties the stack.
func (g *guards) release() {
	s := *g
	*g = nil
	for i := len(s) - 1; i >= 0; i-- {
		log.Debug("bootstrap: releasing", "resource", s[i].name)
		s[i].release()
	}
}

// relieve hands the resources over to the caller; the stack is left empty.
func (g *guards) relieve() guards {
	s := *g
	*g = nil
	return s
}
