package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"

	"github.com/adevara/GoKB/internal/config"
	"github.com/adevara/GoKB/internal/customHttpClient"
	"github.com/adevara/GoKB/pkg/logger_i"
)

// Page is what one scraped URL yields: readable markdown plus a display title.
type Page struct {
	Content string
	Title   string
}

// Scraper is the external scrape collaborator. The default implementation fetches
// and converts in-process; swapping in a hosted scraping API only means
// implementing this interface.
type Scraper interface {
	Scrape(ctx context.Context, pageURL string) (Page, error)
}

type webScraper struct {
	client    *http.Client
	converter *md.Converter
	logger    *logger_i.Logger
}

func NewWebScraper() Scraper {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	pooled := customHttpClient.Get()
	client := &http.Client{
		Transport: pooled.Transport,
		Timeout:   config.ScrapeTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.ScrapeMaxRedirects {
				return fmt.Errorf("too many redirects (max %d)", config.ScrapeMaxRedirects)
			}
			return nil
		},
	}

	return &webScraper{
		client:    client,
		converter: converter,
		logger:    logger_i.NewLogger("Scraper"),
	}
}

func (s *webScraper) Scrape(ctx context.Context, pageURL string) (Page, error) {
	body, err := s.fetch(ctx, pageURL)
	if err != nil {
		return Page{}, err
	}

	title := extractHTMLTitle(body)
	markdown, err := s.converter.ConvertString(stripNonContent(string(body)))
	if err != nil {
		return Page{}, fmt.Errorf("markdown conversion: %w", err)
	}
	markdown = strings.TrimSpace(markdown)

	if title == "" {
		title = extractMarkdownTitle(markdown)
	}
	if title == "" {
		title = DomainName(pageURL)
	}

	s.logger.Debug("Scraped page", "url", pageURL, "title", title, "bytes", len(markdown))
	return Page{Content: markdown, Title: title}, nil
}

func (s *webScraper) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", config.ScrapeUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, config.ScrapeMaxContentSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// DomainName returns the host of a URL without a www. prefix, falling back to the
// raw string when it will not parse. Used for source_file display names.
func DomainName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
