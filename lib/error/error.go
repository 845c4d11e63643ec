/*package error contains simple functions for reporting ALPACA errors.
*/
package error

import (
	"fmt"
	"log"
	"os"
	"runtime/debug"
)

// InternalError is the value carried by the panic raised from Internal. The
// rank driver recovers it, aborts the communicator, and re-reports it, so
// that one rank's invariant violation takes down every rank instead of
// leaving the others blocked in a collective.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string { return e.Msg }

// External reports an error to stderr and kills the process. It should be
// used when an error is something a user could reasonably be expected to fix
// through changes in configuration/data/environment. It has the same
// signature as the standard fmt.*printf() functions.
func External(format string, a ...interface{}) {
	log.Printf("ALPACA exited early with the following error:\n"+format, a...)
	os.Exit(1)
}

// Internal reports an invariant violation along with a stack trace and
// panics with an *InternalError. It should be used when the error requires a
// code dive to fix: an invalid buffer request, a partial sibling group, a
// 2:1 breach outside the relaxation pass. It has the same signature as the
// standard fmt.*printf() functions.
func Internal(format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	log.Println("ALPACA hit an internal error:")
	fmt.Fprintf(os.Stderr, "%s\n\n", msg)
	debug.PrintStack()
	panic(&InternalError{Msg: msg})
}
