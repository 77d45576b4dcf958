package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var ErrDisallowed = errors.New("disallowed by robots.txt")

// ArticleFetcher downloads a linked page and returns its main text. Each fetch is preceded
// by the politeness delay.
type ArticleFetcher struct {
	fetcher   *Fetcher
	extractor *ContentExtractor
	robots    *RobotsChecker
	delay     time.Duration
	logger    *slog.Logger
}

// NewArticleFetcher creates an article fetcher. robots may be nil to skip robots.txt checks.
func NewArticleFetcher(fetcher *Fetcher, extractor *ContentExtractor, robots *RobotsChecker, delay time.Duration, logger *slog.Logger) *ArticleFetcher {
	return &ArticleFetcher{
		fetcher:   fetcher,
		extractor: extractor,
		robots:    robots,
		delay:     delay,
		logger:    logger,
	}
}

func (a *ArticleFetcher) FetchText(ctx context.Context, url string) (string, error) {
	if err := sleep(ctx, a.delay); err != nil {
		return "", err
	}

	if a.robots != nil {
		allowed, err := a.robots.Allowed(ctx, url)
		if err != nil {
			return "", err
		}
		if !allowed {
			return "", fmt.Errorf("%s: %w", url, ErrDisallowed)
		}
	}

	data, err := a.fetcher.FetchHTML(ctx, url)
	if err != nil {
		return "", err
	}

	text, err := a.extractor.Run(data)
	if err != nil {
		return "", err
	}

	a.logger.Debug("Article text extracted", "url", url, "content_length", len(text))
	return text, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
