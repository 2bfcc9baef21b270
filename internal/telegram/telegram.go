// Package telegram adapts the Bot API for posting and deleting channel
// albums. The bot is send-only: no poller is started and no updates are
// consumed.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/moonssword/tg-autoposting-bot/internal/domain"
)

// defaultRetryAfter is used when Telegram reports a flood wait without a
// retry_after value.
const defaultRetryAfter = 30 * time.Second

type Config struct {
	Token string
	// RatePerSec caps outgoing API calls process-wide. Telegram allows
	// roughly 30 messages/s for bots; the default stays well under that.
	RatePerSec int
	APITimeout time.Duration
}

type Client struct {
	bot     *tele.Bot
	limiter *rate.Limiter
	log     zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &Client{
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log.With().Str("component", "telegram").Logger(),
	}, nil
}

// SendAlbum posts up to ten photos as one media group with the caption on
// the first photo and returns the resulting message IDs in album order.
// A flood wait is surfaced as *domain.RateLimitedError.
func (c *Client) SendAlbum(ctx context.Context, chatID int64, photoURLs []string, caption string, mode domain.ParseMode) ([]int64, error) {
	if len(photoURLs) == 0 {
		return nil, domain.ErrNoPhotos
	}
	if len(photoURLs) > domain.MaxAlbumPhotos {
		photoURLs = photoURLs[:domain.MaxAlbumPhotos]
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	album := make(tele.Album, 0, len(photoURLs))
	for i, u := range photoURLs {
		p := &tele.Photo{File: tele.FromURL(u)}
		if i == 0 {
			p.Caption = caption
		}
		album = append(album, p)
	}

	msgs, err := c.bot.SendAlbum(tele.ChatID(chatID), album, &tele.SendOptions{ParseMode: parseMode(mode)})
	if err != nil {
		return nil, mapError(err)
	}
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, int64(m.ID))
	}
	return ids, nil
}

// DeleteMessage removes a single message from a channel. The Bot API reports
// already-deleted messages as an error; callers treat any error here as a
// best-effort miss.
func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int64) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	err := c.bot.Delete(&tele.StoredMessage{
		MessageID: strconv.FormatInt(messageID, 10),
		ChatID:    chatID,
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

func parseMode(mode domain.ParseMode) string {
	if mode == domain.ModeMarkdown {
		return tele.ModeMarkdown
	}
	return tele.ModeDefault
}

// mapError translates telebot's flood error into the domain rate-limit
// signal; everything else passes through unchanged.
func mapError(err error) error {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		ra := time.Duration(flood.RetryAfter) * time.Second
		if ra <= 0 {
			ra = defaultRetryAfter
		}
		return &domain.RateLimitedError{RetryAfter: ra}
	}
	var floodp *tele.FloodError
	if errors.As(err, &floodp) && floodp != nil {
		ra := time.Duration(floodp.RetryAfter) * time.Second
		if ra <= 0 {
			ra = defaultRetryAfter
		}
		return &domain.RateLimitedError{RetryAfter: ra}
	}
	return err
}
