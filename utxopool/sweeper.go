// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package utxopool

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/ticker"
)

// Sweeper periodically removes expired leases from a lock table.
type Sweeper struct {
	locks  LockTable
	ticker ticker.Ticker

	// swept is signalled after every sweep, mainly for tests.
	swept chan int

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	quit      chan struct{}
}

// NewSweeper returns a sweeper that cleans locks on every tick of t.
func NewSweeper(locks LockTable, t ticker.Ticker) *Sweeper {
	return &Sweeper{
		locks:  locks,
		ticker: t,
		swept:  make(chan int, 1),
		quit:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.sweepLoop()
	})
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		s.wg.Wait()
	})
}

// Swept delivers the number of leases removed by the most recent sweep.
func (s *Sweeper) Swept() <-chan int {
	return s.swept
}

// sweepLoop is the main goroutine of the sweeper.
//
// NOTE: This MUST be run as a goroutine.
func (s *Sweeper) sweepLoop() {
	defer s.wg.Done()

	s.ticker.Resume()
	defer s.ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-s.ticker.Ticks():
			n, err := s.locks.DeleteExpired(ctx)
			if err != nil {
				log.Errorf("Unable to delete expired locks: %v",
					err)
				continue
			}

			if n > 0 {
				log.Debugf("Removed %d expired locks", n)
			}

			// Drop the oldest report if nobody read it.
			select {
			case <-s.swept:
			default:
			}
			s.swept <- n

		case <-s.quit:
			return
		}
	}
}
