package rapla

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	appLog "github.com/satoqz/rapla-sync/internal/log"
)

// UpstreamURL builds the page URL for a timetable key on a Rapla
// instance, e.g. "https://rapla.example.de/rapla?key=abc".
func UpstreamURL(base, key string) string {
	return base + "?key=" + url.QueryEscape(key)
}

// Fetcher downloads timetable pages. It owns its http.Client so every
// upstream request shares the same timeout and User-Agent.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

func NewFetcher(timeout time.Duration, userAgent string) *Fetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// FetchDocument fetches a single timetable page and parses it. Rapla
// serves ISO-8859-1 pages depending on deployment, so the body goes
// through a charset-aware reader before parsing.
func (f *Fetcher) FetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if pageURL == "" {
		return nil, errors.New("page URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	appLog.Debug("upstream fetch start", "url", pageURL)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected upstream status %d %s", resp.StatusCode, resp.Status)
	}

	body, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("upstream body charset: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("upstream body parse: %w", err)
	}

	return doc, nil
}

// FetchCalendar fetches a page and runs the given extractor over it.
func (f *Fetcher) FetchCalendar(ctx context.Context, pageURL string, x *Extractor) (*Calendar, error) {
	doc, err := f.FetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	cal, err := x.Extract(doc)
	if err != nil {
		return nil, err
	}

	appLog.Info("calendar extracted", "url", pageURL, "name", cal.Name, "event_count", len(cal.Events))
	return cal, nil
}
