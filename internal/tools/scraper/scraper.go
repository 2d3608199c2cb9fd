package scraper

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
)

const (
	DefaultTimeoutMS = 15000
	MaxCharsDefault  = 20000
)

// Result is the readable content extracted from a fetched page.
type Result struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Byline   string `json:"byline,omitempty"`
	Text     string `json:"text"`
	TopImage string `json:"top_image,omitempty"`
	Status   int    `json:"status"`
	RenderMS int    `json:"render_ms"`
}

// Scraper fetches a page with a headless browser and extracts readable text.
type Scraper struct {
	Timeout  time.Duration
	MaxChars int
}

func New(timeoutMS int, maxChars int) *Scraper {
	if timeoutMS <= 0 {
		timeoutMS = DefaultTimeoutMS
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}
	return &Scraper{Timeout: time.Duration(timeoutMS) * time.Millisecond, MaxChars: maxChars}
}

// Fetch renders the page headlessly and runs readability extraction. Fetch
// errors come back in Result.Status rather than as hard errors so a failed
// render still yields a diagnosable result.
func (s *Scraper) Fetch(ctx context.Context, rawURL string) (Result, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Result{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	t0 := time.Now()

	html, err := fetchHTML(ctx, rawURL)
	if err != nil {
		return Result{URL: rawURL, Status: 599, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}

	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(rawURL))
	if err != nil {
		return Result{URL: rawURL, Status: 200, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	text := article.TextContent
	if len(text) > s.MaxChars {
		text = text[:s.MaxChars]
	}

	return Result{
		URL:      rawURL,
		Title:    strings.TrimSpace(article.Title),
		Byline:   strings.TrimSpace(article.Byline),
		Text:     strings.TrimSpace(text),
		TopImage: article.Image,
		Status:   200,
		RenderMS: int(time.Since(t0) / time.Millisecond),
	}, nil
}

func fetchHTML(ctx context.Context, rawURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent("ZeroLoop/1.0 (+contact@example.com)"),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
