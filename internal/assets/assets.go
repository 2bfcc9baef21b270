// Package assets builds photo URLs for posting and removes stored photos
// from the image gateway once an ad is retired.
package assets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/moonssword/tg-autoposting-bot/internal/domain"
)

// Mode selects where photo references come from.
type Mode string

const (
	// ModeRaw posts the stored source URLs as-is.
	ModeRaw Mode = "raw"
	// ModeDerived builds gateway URLs from converted photo names.
	ModeDerived Mode = "derived"
)

// PhotoURLs returns up to ten photo URLs for an ad according to mode.
func PhotoURLs(baseURL string, ad *domain.Ad, mode Mode) []string {
	var urls []string
	if mode == ModeRaw {
		urls = ad.Photos
	} else {
		base := strings.TrimRight(baseURL, "/")
		urls = make([]string, 0, len(ad.ConvertedPhotos))
		for _, name := range ad.ConvertedPhotos {
			if name == "" {
				continue
			}
			urls = append(urls, base+"/images/"+name)
		}
	}
	if len(urls) > domain.MaxAlbumPhotos {
		urls = urls[:domain.MaxAlbumPhotos]
	}
	return urls
}

// Cleaner deletes stored photos over the gateway's HTTP API.
type Cleaner struct {
	http *resty.Client
	log  zerolog.Logger
}

func NewCleaner(baseURL, authToken string, log zerolog.Logger) *Cleaner {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(15 * time.Second).
		SetRetryCount(1)
	if authToken != "" {
		c.SetAuthToken(authToken)
	}
	return &Cleaner{
		http: c,
		log:  log.With().Str("component", "assets").Logger(),
	}
}

// Delete removes the named objects, best-effort: one failure does not stop
// the rest. A 404 counts as deleted. Returns the names actually removed and
// the per-name errors.
func (c *Cleaner) Delete(ctx context.Context, names []string) (deleted []string, errs []error) {
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		resp, err := c.http.R().SetContext(ctx).Delete("/images/" + name)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
		case resp.IsSuccess() || resp.StatusCode() == 404:
			deleted = append(deleted, name)
		default:
			errs = append(errs, fmt.Errorf("delete %s: unexpected status %d", name, resp.StatusCode()))
		}
	}
	if len(errs) > 0 {
		c.log.Warn().Int("deleted", len(deleted)).Int("failed", len(errs)).Msg("asset cleanup finished with failures")
	}
	return deleted, errs
}
