// Package dispatch walks a plan slot by slot and posts ads to their city
// channels.
//
// Each city gets its own lane goroutine working through its queue in order:
// item i is attempted no earlier than run start + i*slot interval. Lanes
// never block each other; a rate-limit wait or failure in one city leaves
// the others on schedule.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/moonssword/tg-autoposting-bot/internal/assets"
	"github.com/moonssword/tg-autoposting-bot/internal/domain"
	"github.com/moonssword/tg-autoposting-bot/internal/planner"
	"github.com/moonssword/tg-autoposting-bot/internal/render"
)

// Store is the write side the dispatcher needs.
type Store interface {
	MarkPosted(ctx context.Context, id int64, messageIDs []int64, channel int64) error
}

// Delivery posts one media album and reports the created message IDs.
type Delivery interface {
	SendAlbum(ctx context.Context, chatID int64, photoURLs []string, caption string, mode domain.ParseMode) ([]int64, error)
}

// Resolver maps a city to its channel chat ID. Resolution happens at
// attempt time, so a config reload mid-run applies to not-yet-started items.
type Resolver func(city string) (int64, bool)

// Hooks report per-item outcomes. Nil funcs are skipped.
type Hooks struct {
	Posted func(city string)
	Failed func(city, reason string)
}

func (h Hooks) posted(city string) {
	if h.Posted != nil {
		h.Posted(city)
	}
}

func (h Hooks) failed(city, reason string) {
	if h.Failed != nil {
		h.Failed(city, reason)
	}
}

type Config struct {
	// SlotInterval spaces consecutive items within each lane.
	SlotInterval time.Duration
	// ItemPace is the pause after each successful post, bounding burst
	// rate toward a single channel even when slots run back to back.
	ItemPace time.Duration

	ParseMode    domain.ParseMode
	AssetMode    assets.Mode
	AssetBaseURL string
}

type Loop struct {
	store    Store
	delivery Delivery
	resolve  Resolver
	cfg      Config
	hooks    Hooks
	log      zerolog.Logger
	clock    Clock
}

func New(store Store, delivery Delivery, resolve Resolver, cfg Config, hooks Hooks, log zerolog.Logger) *Loop {
	return &Loop{
		store:    store,
		delivery: delivery,
		resolve:  resolve,
		cfg:      cfg,
		hooks:    hooks,
		log:      log.With().Str("component", "dispatch").Logger(),
		clock:    wallClock{},
	}
}

// Run executes the plan and returns when every lane has finished, including
// any in-flight backoff waits. Cancelling ctx aborts between slots: items
// not yet attempted stay pending and are re-planned on a later trigger.
func (l *Loop) Run(ctx context.Context, plan *planner.Plan) {
	if plan.Empty() {
		l.log.Debug().Msg("empty plan; nothing to post")
		return
	}

	start := l.clock.Now()
	l.log.Info().Int("cities", len(plan.Queues)).Int("slots", plan.Slots).Int("total", plan.Total()).Msg("posting run started")

	var posted, failed atomic.Int64
	var wg sync.WaitGroup
	for city, queue := range plan.Queues {
		wg.Add(1)
		go func(city string, queue []*domain.Ad) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					l.log.Error().Str("city", city).Any("panic", r).Str("stack", string(debug.Stack())).Msg("panic in posting lane")
				}
			}()
			l.runLane(ctx, start, city, queue, &posted, &failed)
		}(city, queue)
	}
	wg.Wait()

	ev := l.log.Info()
	if failed.Load() > 0 {
		ev = l.log.Warn()
	}
	ev.Int64("posted", posted.Load()).
		Int64("failed", failed.Load()).
		Dur("took", l.clock.Now().Sub(start)).
		Msg("posting run finished")
}

// runLane walks one city's queue in planned order. Item i waits for its slot
// boundary; a lane that fell behind (rate-limit wait) proceeds immediately.
func (l *Loop) runLane(ctx context.Context, start time.Time, city string, queue []*domain.Ad, posted, failed *atomic.Int64) {
	for i, ad := range queue {
		if ctx.Err() != nil {
			l.log.Info().Str("city", city).Int("remaining", len(queue)-i).Msg("lane aborted; remaining ads stay pending")
			return
		}
		due := start.Add(time.Duration(i) * l.cfg.SlotInterval)
		if d := due.Sub(l.clock.Now()); d > 0 {
			if err := l.clock.Sleep(ctx, d); err != nil {
				l.log.Info().Str("city", city).Int("remaining", len(queue)-i).Msg("lane aborted; remaining ads stay pending")
				return
			}
		}
		if l.attempt(ctx, city, ad) {
			posted.Add(1)
		} else {
			failed.Add(1)
		}
	}
}

// attempt delivers a single ad. Each ad is attempted at most once per run:
// whatever the outcome, it is never revisited until the next trigger
// re-plans it (or finds it posted).
func (l *Loop) attempt(ctx context.Context, city string, ad *domain.Ad) bool {
	log := l.log.With().Str("city", city).Int64("id", ad.ID).Str("ad_id", ad.AdID).Logger()

	caption, err := render.Caption(ad, l.cfg.ParseMode)
	if err != nil {
		log.Warn().Err(err).Msg("caption render failed; ad skipped")
		l.hooks.failed(city, "render")
		return false
	}

	chat, ok := l.resolve(city)
	if !ok {
		log.Warn().Err(domain.ErrNoChannel).Msg("ad skipped")
		l.hooks.failed(city, "no_channel")
		return false
	}

	photos := assets.PhotoURLs(l.cfg.AssetBaseURL, ad, l.cfg.AssetMode)
	if len(photos) == 0 {
		log.Warn().Err(domain.ErrNoPhotos).Msg("ad skipped")
		l.hooks.failed(city, "no_photos")
		return false
	}

	ids, err := l.send(ctx, log, chat, photos, caption)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		var rl *domain.RateLimitedError
		if errors.As(err, &rl) {
			log.Warn().Err(err).Msg("rate limited twice; ad stays pending")
			l.hooks.failed(city, "rate_limited")
		} else {
			log.Warn().Err(err).Msg("send failed; ad stays pending")
			l.hooks.failed(city, "delivery")
		}
		return false
	}

	if err := l.store.MarkPosted(ctx, ad.ID, ids, chat); err != nil {
		// The album is live in the channel but the row still says pending.
		// Left for manual review rather than deleting the album or blindly
		// retrying the write.
		log.Error().Err(err).Ints64("message_ids", ids).Int64("channel", chat).
			Msg("posted to channel but store update failed; state diverged")
		l.hooks.failed(city, "commit")
		return false
	}
	log.Info().Int("photos", len(photos)).Ints64("message_ids", ids).Msg("ad posted")
	l.hooks.posted(city)

	_ = l.clock.Sleep(ctx, l.cfg.ItemPace)
	return true
}

// send tries the album once, honoring a single rate-limit pause. A second
// rate limit is returned to the caller; there is no unbounded retry loop.
func (l *Loop) send(ctx context.Context, log zerolog.Logger, chat int64, photos []string, caption string) ([]int64, error) {
	ids, err := l.delivery.SendAlbum(ctx, chat, photos, caption, l.cfg.ParseMode)
	if err == nil {
		return ids, nil
	}

	var rl *domain.RateLimitedError
	if !errors.As(err, &rl) {
		return nil, err
	}
	wait := rl.RetryAfter
	if wait <= 0 {
		wait = 30 * time.Second
	}
	log.Info().Dur("wait", wait).Msg("rate limited; lane paused before retry")
	if err := l.clock.Sleep(ctx, wait); err != nil {
		return nil, err
	}

	ids, err = l.delivery.SendAlbum(ctx, chat, photos, caption, l.cfg.ParseMode)
	if err != nil {
		return nil, fmt.Errorf("retry after rate limit: %w", err)
	}
	return ids, nil
}
