package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

var Logger = slog.Default()

// PanicError carries a recovered panic value out of a worker.
type PanicError struct {
	Worker string
	Value  any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Worker, e.Value)
}

// Go runs fn in a new goroutine; a panic is logged instead of killing the process.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				Logger.Error("goroutine_panic_recovered",
					slog.String("worker_name", name),
					slog.String("error", fmt.Sprintf("%v", r)),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		fn()
	}()
}

// Do runs fn synchronously and turns a panic into a *PanicError.
// Used inside errgroup workers so one bad payload fails its batch, not the process.
func Do(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("named_panic_recovered",
				slog.String("worker_name", name),
				slog.String("error", fmt.Sprintf("%v", r)),
				slog.String("stack", string(debug.Stack())),
			)
			err = &PanicError{Worker: name, Value: r}
		}
	}()
	return fn()
}
