// Package storage is the Postgres gateway for the ads table.
//
// All writes are single-row updates; each ad's state transition is atomic at
// the database layer, so no cross-row locking is needed.
package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/moonssword/tg-autoposting-bot/internal/domain"
)

var qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type Options struct {
	// FreshnessWindow bounds eligibility for posting: an unposted ad older
	// than this is never planned.
	FreshnessWindow time.Duration
	// RetentionWindow bounds eligibility for reconciliation: a posted ad is
	// taken down once delivered_at is older than this.
	RetentionWindow time.Duration
}

type Postgres struct {
	pool *pgxpool.Pool
	opts Options
	log  zerolog.Logger
	now  func() time.Time
}

func New(pool *pgxpool.Pool, opts Options, log zerolog.Logger) *Postgres {
	return &Postgres{
		pool: pool,
		opts: opts,
		log:  log.With().Str("component", "storage").Logger(),
		now:  time.Now,
	}
}

// Connect creates a pgxpool connection pool and verifies connectivity.
func Connect(ctx context.Context, url string, maxConns, minConns int) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	if minConns > 0 {
		poolCfg.MinConns = int32(minConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (s *Postgres) Close() { s.pool.Close() }

// listingExprs coalesce nullable listing columns so scanning stays plain.
// Order must match scanListing.
var listingExprs = []string{
	"id",
	"ad_id",
	"city",
	"posted_at",
	"COALESCE(house_type, '') AS house_type",
	"COALESCE(rooms, 0) AS rooms",
	"COALESCE(area, 0) AS area",
	"COALESCE(floor_current, 0) AS floor_current",
	"COALESCE(floor_total, 0) AS floor_total",
	"COALESCE(bed_capacity, 0) AS bed_capacity",
	"COALESCE(duration, '') AS duration",
	"COALESCE(district, '') AS district",
	"COALESCE(microdistrict, '') AS microdistrict",
	"COALESCE(address, '') AS address",
	"COALESCE(author, '') AS author",
	"COALESCE(price, 0) AS price",
	"COALESCE(deposit, false) AS deposit",
	"COALESCE(deposit_value, 0) AS deposit_value",
	"COALESCE(phone, '') AS phone",
	"COALESCE(whatsapp, false) AS whatsapp",
	"COALESCE(tg_username, '') AS tg_username",
	"COALESCE(fridge, false) AS fridge",
	"COALESCE(washing_machine, false) AS washing_machine",
	"COALESCE(microwave, false) AS microwave",
	"COALESCE(dishwasher, false) AS dishwasher",
	"COALESCE(iron, false) AS iron",
	"COALESCE(tv, false) AS tv",
	"COALESCE(wifi, false) AS wifi",
	"COALESCE(stove, false) AS stove",
	"COALESCE(shower, false) AS shower",
	"COALESCE(separate_toilet, false) AS separate_toilet",
	"COALESCE(bed_linen, false) AS bed_linen",
	"COALESCE(towels, false) AS towels",
	"COALESCE(hygiene_items, false) AS hygiene_items",
	"COALESCE(kitchen, false) AS kitchen",
	"COALESCE(wardrobe, false) AS wardrobe",
	"COALESCE(sleeping_places, false) AS sleeping_places",
	"COALESCE(family, false) AS family",
	"COALESCE(single, false) AS single",
	"COALESCE(with_child, false) AS with_child",
	"COALESCE(with_pets, false) AS with_pets",
	"COALESCE(max_guests, 0) AS max_guests",
	"COALESCE(description, '') AS description",
	"COALESCE(photos, '{}') AS photos",
	"COALESCE(converted_photos, '{}') AS converted_photos",
}

var listingNames = []string{
	"id", "ad_id", "city", "posted_at",
	"house_type", "rooms", "area", "floor_current", "floor_total",
	"bed_capacity", "duration", "district", "microdistrict", "address",
	"author", "price", "deposit", "deposit_value", "phone", "whatsapp",
	"tg_username", "fridge", "washing_machine", "microwave", "dishwasher",
	"iron", "tv", "wifi", "stove", "shower", "separate_toilet", "bed_linen",
	"towels", "hygiene_items", "kitchen", "wardrobe", "sleeping_places",
	"family", "single", "with_child", "with_pets", "max_guests",
	"description", "photos", "converted_photos",
}

// FetchEligible returns pending ads for the given cities, freshest first,
// at most perCityCap per city. Ordering is stable (posted_at DESC, id ASC)
// so repeated planning over an unchanged table yields an identical batch.
func (s *Postgres) FetchEligible(ctx context.Context, cities []string, perCityCap int) ([]*domain.Ad, error) {
	if len(cities) == 0 || perCityCap <= 0 {
		return nil, nil
	}

	query, args, err := eligibleQuery(cities, perCityCap, s.now().Add(-s.opts.FreshnessWindow))
	if err != nil {
		return nil, fmt.Errorf("build eligible query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch eligible ads: %w", err)
	}
	defer rows.Close()

	var ads []*domain.Ad
	for rows.Next() {
		ad, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan eligible ad: %w", err)
		}
		ads = append(ads, ad)
	}
	return ads, rows.Err()
}

// FetchReconcilable returns posted ads whose delivered_at has aged past the
// retention window and that still have channel messages to take down.
func (s *Postgres) FetchReconcilable(ctx context.Context) ([]*domain.Ad, error) {
	query, args, err := reconcilableQuery(s.now().Add(-s.opts.RetentionWindow))
	if err != nil {
		return nil, fmt.Errorf("build reconcilable query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch reconcilable ads: %w", err)
	}
	defer rows.Close()

	var ads []*domain.Ad
	for rows.Next() {
		var ad domain.Ad
		if err := rows.Scan(&ad.ID, &ad.AdID, &ad.City, &ad.Channel, &ad.MessageIDs, &ad.ConvertedPhotos); err != nil {
			return nil, fmt.Errorf("scan reconcilable ad: %w", err)
		}
		ads = append(ads, &ad)
	}
	return ads, rows.Err()
}

// MarkPosted records a successful delivery: the ad becomes posted with its
// message ids, the channel it actually went to, and a delivery timestamp.
func (s *Postgres) MarkPosted(ctx context.Context, id int64, messageIDs []int64, channel int64) error {
	query, args, err := qb.Update("ads").
		Set("is_posted", true).
		Set("message_ids", messageIDs).
		Set("channel", channel).
		Set("delivered_at", s.now()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark posted: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("mark ad %d posted: %w", id, err)
	}
	return nil
}

// MarkInactive retires an ad after its channel messages were removed.
func (s *Postgres) MarkInactive(ctx context.Context, id int64) error {
	query, args, err := qb.Update("ads").
		Set("is_active", false).
		Set("message_ids", nil).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark inactive: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("mark ad %d inactive: %w", id, err)
	}
	return nil
}

// eligibleQuery ranks pending rows per city by freshness and keeps the top
// perCityCap of each. posted_at DESC with the id tie-break keeps the batch
// stable across repeated planning.
func eligibleQuery(cities []string, perCityCap int, cutoff time.Time) (string, []any, error) {
	ranked := qb.Select(append(append([]string{}, listingExprs...),
		"ROW_NUMBER() OVER (PARTITION BY city ORDER BY posted_at DESC, id ASC) AS rn")...).
		From("ads").
		Where(sq.Eq{"is_active": true, "is_posted": false}).
		Where(sq.Eq{"city": cities}).
		Where(sq.Gt{"posted_at": cutoff})

	return qb.Select(listingNames...).
		FromSelect(ranked, "ranked").
		Where(sq.LtOrEq{"rn": perCityCap}).
		OrderBy("city ASC", "rn ASC").
		ToSql()
}

func reconcilableQuery(cutoff time.Time) (string, []any, error) {
	return qb.Select(
		"id", "ad_id", "city",
		"COALESCE(channel, 0) AS channel",
		"message_ids",
		"COALESCE(converted_photos, '{}') AS converted_photos",
	).
		From("ads").
		Where(sq.Eq{"is_active": true, "is_posted": true}).
		Where(sq.Lt{"delivered_at": cutoff}).
		Where("message_ids IS NOT NULL AND array_length(message_ids, 1) > 0").
		OrderBy("id ASC").
		ToSql()
}

func scanListing(row interface{ Scan(...any) error }) (*domain.Ad, error) {
	var ad domain.Ad
	err := row.Scan(
		&ad.ID, &ad.AdID, &ad.City, &ad.PostedAt,
		&ad.HouseType, &ad.Rooms, &ad.Area, &ad.FloorCurrent, &ad.FloorTotal,
		&ad.BedCapacity, &ad.Duration, &ad.District, &ad.Microdistrict, &ad.Address,
		&ad.Author, &ad.Price, &ad.Deposit, &ad.DepositValue, &ad.Phone, &ad.Whatsapp,
		&ad.TGUsername, &ad.Fridge, &ad.WashingMachine, &ad.Microwave, &ad.Dishwasher,
		&ad.Iron, &ad.TV, &ad.WiFi, &ad.Stove, &ad.Shower, &ad.SeparateToilet, &ad.BedLinen,
		&ad.Towels, &ad.HygieneItems, &ad.Kitchen, &ad.Wardrobe, &ad.SleepingPlaces,
		&ad.Family, &ad.Single, &ad.WithChild, &ad.WithPets, &ad.MaxGuests,
		&ad.Description, &ad.Photos, &ad.ConvertedPhotos,
	)
	if err != nil {
		return nil, err
	}
	return &ad, nil
}
