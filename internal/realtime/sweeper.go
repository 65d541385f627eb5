package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TypingExpirer expires typing entries older than ttl
type TypingExpirer interface {
	ExpireTyping(ctx context.Context, ttl time.Duration) (int, error)
}

// Sweeper periodically expires stale typing indicators. It is only started
// when a typing TTL is configured.
type Sweeper struct {
	expirer  TypingExpirer
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// SweeperConfig holds configuration for the typing sweeper
type SweeperConfig struct {
	TTL      time.Duration
	Interval time.Duration
}

// NewSweeper creates a typing sweeper
func NewSweeper(expirer TypingExpirer, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Second
	}

	return &Sweeper{
		expirer:  expirer,
		ttl:      cfg.TTL,
		interval: cfg.Interval,
		logger:   logger,
	}
}

// Start starts the sweeper
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running || s.ttl <= 0 {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("typing sweeper started", "ttl", s.ttl, "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the sweeper and waits for an in-flight sweep
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("typing sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.expirer.ExpireTyping(ctx, s.ttl)
	if err != nil {
		s.logger.Error("failed to expire typing indicators", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("expired typing indicators", "count", n)
	}
}
