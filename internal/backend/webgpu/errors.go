package webgpu

import (
	"fmt"
	"log"
	"runtime"
)

// FailPolicy controls how device-call failures inside the pipeline are
// handled.
type FailPolicy int

const (
	// LogAndContinue reports the failure on the diagnostic stream and
	// keeps going; later operations may fail again or produce undefined
	// results. This is the default.
	LogAndContinue FailPolicy = iota
	// AbortOnError panics on the first device-call failure.
	AbortOnError
)

// check reports a failed device call with its description and source
// location. Under LogAndContinue execution proceeds; the run's exit status
// is unaffected by logged device errors.
func (b *Backend) check(call string, err error) {
	if err == nil {
		return
	}
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file, line = "unknown", 0
	}
	log.Printf("ERROR: device call %q in line %d of file %s failed with %v", call, line, file, err)
	if b.Policy == AbortOnError {
		panic(fmt.Sprintf("webgpu: %s: %v", call, err))
	}
}
