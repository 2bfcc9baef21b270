// Package reconcile takes down aged-out postings: channel messages are
// deleted, the ad is retired, and its stored photos are removed.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/moonssword/tg-autoposting-bot/internal/domain"
)

type Store interface {
	FetchReconcilable(ctx context.Context) ([]*domain.Ad, error)
	MarkInactive(ctx context.Context, id int64) error
}

type Delivery interface {
	DeleteMessage(ctx context.Context, chatID int64, messageID int64) error
}

// AssetCleaner removes stored photo objects, best-effort.
type AssetCleaner interface {
	Delete(ctx context.Context, names []string) (deleted []string, errs []error)
}

// Resolver maps a city to its channel, used only for legacy rows that
// predate the recorded channel column.
type Resolver func(city string) (int64, bool)

// Hooks report reconciliation outcomes. Nil funcs are skipped.
type Hooks struct {
	MessagesDeleted func(n int)
	AssetsDeleted   func(n int)
}

type Reconciler struct {
	store   Store
	deliver Delivery
	cleaner AssetCleaner
	resolve Resolver
	hooks   Hooks
	log     zerolog.Logger
}

func New(store Store, deliver Delivery, cleaner AssetCleaner, resolve Resolver, hooks Hooks, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		deliver: deliver,
		cleaner: cleaner,
		resolve: resolve,
		hooks:   hooks,
		log:     log.With().Str("component", "reconcile").Logger(),
	}
}

// Run processes every aged-out ad independently: one ad's failure never
// blocks another's. A store read failure aborts the run; the next nightly
// trigger retries naturally.
func (r *Reconciler) Run(ctx context.Context) error {
	start := time.Now()
	ads, err := r.store.FetchReconcilable(ctx)
	if err != nil {
		return fmt.Errorf("fetch reconcilable ads: %w", err)
	}
	if len(ads) == 0 {
		r.log.Debug().Msg("nothing to reconcile")
		return nil
	}

	r.log.Info().Int("ads", len(ads)).Msg("reconciliation started")
	retired := 0
	for _, ad := range ads {
		if ctx.Err() != nil {
			break
		}
		if r.reconcileOne(ctx, ad) {
			retired++
		}
	}
	r.log.Info().Int("retired", retired).Int("ads", len(ads)).Dur("took", time.Since(start)).Msg("reconciliation finished")
	return nil
}

// reconcileOne deletes an ad's channel messages and, when at least one
// deletion went through, retires the ad and cleans up its photos.
//
// An ad whose messages were only partially deleted is still retired; the
// leftovers stay in the channel and are not revisited. Only when every
// deletion fails does the ad remain posted, so the next run tries again.
func (r *Reconciler) reconcileOne(ctx context.Context, ad *domain.Ad) bool {
	log := r.log.With().Int64("id", ad.ID).Str("ad_id", ad.AdID).Str("city", ad.City).Logger()

	chat := ad.Channel
	if chat == 0 {
		var ok bool
		if chat, ok = r.resolve(ad.City); !ok {
			log.Warn().Err(domain.ErrNoChannel).Msg("cannot delete messages; ad left posted")
			return false
		}
	}

	deleted := 0
	for _, msgID := range ad.MessageIDs {
		if err := r.deliver.DeleteMessage(ctx, chat, msgID); err != nil {
			log.Warn().Err(err).Int64("message_id", msgID).Int64("channel", chat).Msg("message delete failed")
			continue
		}
		deleted++
	}
	if deleted == 0 {
		log.Warn().Int("message_ids", len(ad.MessageIDs)).Msg("no messages deleted; ad left posted")
		return false
	}
	if r.hooks.MessagesDeleted != nil {
		r.hooks.MessagesDeleted(deleted)
	}

	if err := r.store.MarkInactive(ctx, ad.ID); err != nil {
		log.Error().Err(err).Msg("messages deleted but store update failed; ad will be retried")
		return false
	}

	if len(ad.ConvertedPhotos) > 0 {
		removed, errs := r.cleaner.Delete(ctx, ad.ConvertedPhotos)
		if r.hooks.AssetsDeleted != nil {
			r.hooks.AssetsDeleted(len(removed))
		}
		// Photo leftovers don't revert the ad: it is already inactive and
		// is not revisited for storage cleanup.
		for _, err := range errs {
			log.Warn().Err(err).Msg("photo cleanup failed")
		}
	}

	log.Info().Int("deleted", deleted).Int("message_ids", len(ad.MessageIDs)).Msg("ad retired")
	return true
}
