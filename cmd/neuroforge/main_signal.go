//go:build !excludemain

package main

import (
	"os"
	"os/signal"

	"neuroforge/internal/signals"
)

func init() {
	waitForShutdown = waitForShutdownSignal
}

func waitForShutdownSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals.ShutdownSignals()...)
	<-ch
}
