//go:build !unix

package main

import "context"

// memoryPressure never fires where SIGUSR1 does not exist; the API's
// release endpoint still works.
func memoryPressure(ctx context.Context) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out
}
