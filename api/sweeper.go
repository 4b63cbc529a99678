/*
sweeper.go - Expired idempotency record cleanup

PURPOSE:
  Periodically deletes idempotency records whose TTL has passed. The engine
  already treats expired records as absent, so the sweeper only reclaims
  storage; correctness does not depend on it running.

USAGE:
  sweeper := api.NewSweeper(store, time.Hour, logger)
  sweeper.Start()
  // ... on shutdown
  sweeper.Stop()
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/warp/wallet-engine/wallet"
)

// Sweeper purges expired idempotency records on an interval.
type Sweeper struct {
	store    wallet.Store
	interval time.Duration
	log      *log.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewSweeper(store wallet.Store, interval time.Duration, logger *log.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		log:      logger,
		stop:     make(chan struct{}),
	}
}

// Start begins the background sweep loop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return
	}
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.interval)
	s.wg.Add(1)
	go s.run()
	s.log.Info("idempotency sweeper started", "interval", s.interval)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.log.Info("idempotency sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	s.sweep()
	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	purged, err := s.store.PurgeExpiredIdempotency(ctx, time.Now().UTC())
	if err != nil {
		s.log.Warn("idempotency sweep failed", "err", err)
		return
	}
	if purged > 0 {
		s.log.Debug("idempotency records purged", "count", purged)
	}
}
