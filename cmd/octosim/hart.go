package main

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"proc"
)

// HartPool runs one goroutine per simulated hart, each wrapping
// proc.Scheduler, per SPEC_FULL.md's domain-stack placement of
// golang.org/x/sync/errgroup. Grounded on proc.Scheduler's own doc
// comment, which already specifies this exact shape ("the caller
// supplies idle"); errgroup just gives octosim a single Wait() that
// joins every hart goroutine. Each goroutine returns nil and nothing
// recovers a panic, so Wait never reports a hart failure as an error.
type HartPool struct {
	group *errgroup.Group
	stop  chan struct{}
}

// StartHartPool launches n hart-scheduler goroutines against a shared
// stop channel.
func StartHartPool(n int) *HartPool {
	g, _ := errgroup.WithContext(context.Background())
	stop := make(chan struct{})
	for h := 0; h < n; h++ {
		hartID := h
		g.Go(func() error {
			proc.Scheduler(hartID, idleBackoff, stop)
			return nil
		})
	}
	return &HartPool{group: g, stop: stop}
}

// idleBackoff stands in for a real wfi instruction: without one,
// a hart with nothing runnable would spin its Go goroutine at 100%
// CPU scanning the process table.
func idleBackoff() {
	time.Sleep(200 * time.Microsecond)
}

// Stop closes the shared stop channel and waits for every hart
// goroutine to return.
func (hp *HartPool) Stop() error {
	close(hp.stop)
	return hp.group.Wait()
}
