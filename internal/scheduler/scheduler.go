// Package scheduler maps wall-clock daily times onto job invocations.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/moonssword/tg-autoposting-bot/internal/config"
)

// Service runs registered daily jobs in a fixed timezone. One scheduler
// instance is assumed per deployment; overlapping triggers of the same job
// are skipped, not queued.
type Service struct {
	c   *cron.Cron
	loc *time.Location
	log zerolog.Logger

	mu     sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
}

// New builds a scheduler for the given IANA timezone ("" means the host
// local zone, matching how trigger times were interpreted historically).
func New(timezone string, log zerolog.Logger) (*Service, error) {
	loc := time.Local
	if tz := strings.TrimSpace(timezone); tz != "" {
		var err error
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", tz, err)
		}
	}
	return &Service{
		c:   cron.New(cron.WithLocation(loc)),
		loc: loc,
		log: log.With().Str("component", "scheduler").Logger(),
	}, nil
}

func (s *Service) Location() *time.Location { return s.loc }

// AddDaily registers job to fire every day at "HH:MM". If the previous
// invocation of the same job is still in flight, the trigger is skipped.
func (s *Service) AddDaily(name, hhmm string, job func(ctx context.Context)) error {
	hour, minute, err := config.ParseHHMM(hhmm)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	spec := fmt.Sprintf("%d %d * * *", minute, hour)

	var running atomic.Bool
	_, err = s.c.AddFunc(spec, func() {
		if !running.CompareAndSwap(false, true) {
			s.log.Warn().Str("job", name).Msg("previous run still in flight; trigger skipped")
			return
		}
		defer running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Str("job", name).Any("panic", r).Str("stack", string(debug.Stack())).Msg("panic in scheduled job")
			}
		}()

		s.mu.Lock()
		ctx := s.runCtx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}

		start := time.Now()
		s.log.Info().Str("job", name).Str("at", hhmm).Msg("job triggered")
		job(ctx)
		s.log.Info().Str("job", name).Dur("took", time.Since(start)).Msg("job finished")
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.log.Debug().Str("job", name).Str("spec", spec).Str("tz", s.loc.String()).Msg("job registered")
	return nil
}

// Start begins firing triggers. Jobs receive a context derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.c.Start()
	s.log.Info().Str("tz", s.loc.String()).Msg("scheduler started")
}

// Stop cancels running jobs and waits for in-flight triggers to return.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-s.c.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}
