//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// memoryPressure turns SIGUSR1 into memory release requests.
func memoryPressure(ctx context.Context) <-chan struct{} {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)

	out := make(chan struct{})
	go func() {
		defer signal.Stop(sig)
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sig:
				select {
				case out <- struct{}{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
