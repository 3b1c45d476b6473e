// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/metrics"
)

const defaultTimeout = 3 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	// Dedup belongs to the frontier; every Fetch is a deliberate visit.
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}

	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.SetRequestTimeout(timeout)

	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. Every failure is folded into the
// returned outcome; the deadline on ctx bounds the call.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) crawler.FetchOutcome {
	var (
		result   *crawler.FetchOutcome
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx)
	f.configureCollectorHooks(collector, &result, &fetchErr)

	outcome := f.runCollector(ctx, collector, rawURL, &result, &fetchErr)
	outcome.Duration = time.Since(start)
	return outcome
}

// buildCollector clones the base collector for one call. Clones share the
// base's HTTP client, so the clone must not touch client settings; the
// deadline on ctx bounds the call instead.
func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	result **crawler.FetchOutcome,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		observeResponse(r)
		outcome := crawler.Success(r.StatusCode, append([]byte(nil), r.Body...))
		*result = &outcome
	})

	hooks.OnError(func(r *colly.Response, err error) {
		// With ParseHTTPErrorResponse set, a response that still reports an
		// error carries a usable status.
		if r != nil && r.StatusCode > 0 && *result == nil {
			observeResponse(r)
			outcome := crawler.Success(r.StatusCode, append([]byte(nil), r.Body...))
			*result = &outcome
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	rawURL string,
	result **crawler.FetchOutcome,
	fetchErr *error,
) crawler.FetchOutcome {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return classify(ctx.Err())
	case err := <-done:
		if *result != nil {
			return **result
		}
		if *fetchErr != nil {
			return classify(*fetchErr)
		}
		if err != nil {
			return classify(err)
		}
		return crawler.TransportFailure("no response")
	}
}

func observeResponse(r *colly.Response) {
	site := ""
	if r.Request != nil && r.Request.URL != nil {
		site = r.Request.URL.String()
	}
	metrics.ObserveFetch(site, r.StatusCode, len(r.Body))
}

func classify(err error) crawler.FetchOutcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return crawler.Timeout()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return crawler.Timeout()
	}
	return crawler.TransportFailure(err.Error())
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
	}
}
