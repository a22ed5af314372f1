package session

import (
	"fmt"

	"github.com/san-kum/daesolve/internal/ida"
)

// EngineError is a fatal engine status translated at the call boundary.
type EngineError struct {
	Call string // the engine call that failed
	Flag ida.Flag
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("session: %s returned %q", e.Call, e.Flag)
}

// check translates an engine status code: non-negative codes pass through
// as success, negative codes become an EngineError naming the call site
// and the symbolic flag.
func check(call string, flag ida.Flag) error {
	if !flag.Fatal() {
		return nil
	}
	return &EngineError{Call: call, Flag: flag}
}
