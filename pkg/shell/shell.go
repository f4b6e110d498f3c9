// Package shell holds small process environment helpers.
package shell

import (
	"os"
	"os/signal"
	"syscall"
)

// RunUntilSignal blocks the caller until SIGINT or SIGTERM arrives.
func RunUntilSignal() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigs
	println("exit with signal:", sig.String())
}
