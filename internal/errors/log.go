package errors

import (
	"log"
	"os"
)

// stderr is the ambient logger for non-hot-path stages (bytecode I/O,
// CLI, REPL, native module registration). The interpreter's dispatch
// loop never logs through this — it only ever writes to the Channel.
var stderr = log.New(os.Stderr, "noct: ", 0)

func Logf(format string, args ...interface{}) {
	stderr.Printf(format, args...)
}

func Warnf(format string, args ...interface{}) {
	stderr.Printf("warning: "+format, args...)
}
