//go:build windows

package main

import (
	"os"
	"os/signal"
)

// notifySignals registers Ctrl+C for graceful shutdown.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt)
}
