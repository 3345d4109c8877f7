// cmd/chalk-kernel/main.go
//
// The chalk kernel child process. The engine's pty adapter spawns this
// binary, sends one-line batchfile commands naming the program text to
// evaluate, and watches for the prompt marker to know a batch has finished.
// Piped stdin can instead submit inline batches terminated by an EOT line.
//
// All interesting behavior lives in internal/kernel; this wires stdin,
// stdout and SIGINT to it.

package main

import (
	"os"
	"os/signal"

	"github.com/mhalloran/chalk/internal/kernel"
)

func main() {
	k := kernel.New(os.Stdout)
	k.RegisterSystem("sh", kernel.ShellSystem())

	// Ctrl-C through the pty arrives as SIGINT. It aborts the evaluation
	// in flight; the session itself stays alive.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		for range sig {
			k.Interrupt()
		}
	}()

	k.Serve(os.Stdin)
}
