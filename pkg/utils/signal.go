package utils

import (
	"os"
	"os/signal"
	"syscall"
)

// WaitForSignal blocks until SIGINT or SIGTERM is received, then calls
// stop. SIGTERM is the external supervisor's cooperative-shutdown signal
// (spec.md §5: "External supervisor SIGTERM is mapped to cooperative
// stop()").
func WaitForSignal(stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	stop()
}
