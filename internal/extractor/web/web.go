// Package web crawls a site over HTTP and turns its HTML pages into plain
// text for the ingestion pipeline.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"code.sajari.com/docconv"
	"github.com/PuerkitoBio/goquery"

	"github.com/feichai0017/knowledge-pipeline/internal/extractor"
	"github.com/feichai0017/knowledge-pipeline/internal/models"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

const backendName = "web"

// Elements that never carry page content.
const boilerplate = "script, style, noscript, nav, footer, header, aside, iframe, svg"

// Tags after which the text gets a line break.
var breakTags = []string{
	"br", "p", "div", "li", "tr", "pre", "blockquote", "section", "article",
	"h1", "h2", "h3", "h4", "h5", "h6",
}

type Config struct {
	MaxPages     int
	MaxDepth     int
	LinksPerPage int
	Timeout      time.Duration
	UserAgent    string
	MaxPageBytes int64
	MaxIdleConns int
}

func (c *Config) setDefaults() {
	if c.MaxPages <= 0 {
		c.MaxPages = 50
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 1
	}
	if c.LinksPerPage <= 0 {
		c.LinksPerPage = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; KnowledgePipelineBot/1.0)"
	}
	if c.MaxPageBytes <= 0 {
		c.MaxPageBytes = 10 << 20
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 10
	}
}

// Request is one crawl job. Without FollowLinks only URL is fetched.
type Request struct {
	URL         string
	FollowLinks bool
	// MaxDepth counts link hops from URL; zero means the configured default.
	MaxDepth int
}

// Page is one fetched HTML page.
type Page struct {
	URL   string   `json:"url"`
	Title string   `json:"title"`
	Text  string   `json:"-"`
	Links []string `json:"-"`
}

// Crawler is safe for concurrent use; every crawl shares one pooled transport.
type Crawler struct {
	cfg    Config
	client *http.Client
	logger logger.Logger
}

func NewCrawler(cfg Config, log logger.Logger) *Crawler {
	cfg.setDefaults()
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.MaxIdleConns
	transport.MaxIdleConnsPerHost = cfg.MaxIdleConns
	transport.IdleConnTimeout = 90 * time.Second

	return &Crawler{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger: log.Named("crawler"),
	}
}

// ValidateURL accepts absolute http and https URLs.
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &models.ValidationError{
			Code:    "INVALID_URL",
			Field:   "url",
			Message: fmt.Sprintf("not an absolute http(s) URL: %q", raw),
		}
	}
	return u, nil
}

// Crawl fetches req.URL and, when asked, follows links on the same host
// depth first. Pages that fail or are not HTML are skipped; an error is
// returned only when no page could be read.
func (c *Crawler) Crawl(ctx context.Context, req Request) ([]Page, error) {
	start, err := ValidateURL(req.URL)
	if err != nil {
		return nil, err
	}
	depth := 0
	if req.FollowLinks {
		depth = req.MaxDepth
		if depth <= 0 {
			depth = c.cfg.MaxDepth
		}
	}

	w := &walk{host: start.Host, visited: make(map[string]bool), maxDepth: depth}
	c.visit(ctx, w, normalize(start), 0)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(w.pages) == 0 {
		if w.firstErr != nil {
			return nil, w.firstErr
		}
		return nil, &models.ValidationError{
			Code:    "NO_HTML_CONTENT",
			Field:   "url",
			Message: fmt.Sprintf("no HTML page found at %s", req.URL),
		}
	}
	return w.pages, nil
}

type walk struct {
	host     string
	visited  map[string]bool
	maxDepth int
	pages    []Page
	firstErr error
}

func (c *Crawler) visit(ctx context.Context, w *walk, target string, depth int) {
	if w.visited[target] || len(w.visited) >= c.cfg.MaxPages || depth > w.maxDepth || ctx.Err() != nil {
		return
	}
	w.visited[target] = true

	page, err := c.fetch(ctx, target)
	if err != nil {
		c.logger.Warn("Failed to crawl page", logger.String("url", target), logger.Error(err))
		if w.firstErr == nil {
			w.firstErr = err
		}
		return
	}
	if page == nil {
		return
	}
	w.pages = append(w.pages, *page)

	if depth == w.maxDepth {
		return
	}
	followed := 0
	for _, link := range page.Links {
		if followed == c.cfg.LinksPerPage {
			break
		}
		u, err := url.Parse(link)
		if err != nil || u.Host != w.host {
			continue
		}
		followed++
		c.visit(ctx, w, link, depth+1)
	}
}

// fetch returns nil without error for responses that are not HTML.
func (c *Crawler) fetch(ctx context.Context, target string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, models.Unavailable(backendName, "fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &models.BackendError{
			Backend:    backendName,
			Op:         "fetch",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("GET %s: %s", target, resp.Status),
		}
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/html" && mt != "application/xhtml+xml" {
		c.logger.Debug("Skipping non-HTML page", logger.String("url", target), logger.String("contentType", mt))
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, c.cfg.MaxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", target, err)
	}
	// redirects change the base for relative links
	base := resp.Request.URL
	return &Page{
		URL:   target,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Links: links(doc, base),
		Text:  pageText(doc),
	}, nil
}

func links(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, err := base.Parse(strings.TrimSpace(href))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		n := normalize(u)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	})
	return out
}

// pageText keeps the main content of the page when it is marked up.
func pageText(doc *goquery.Document) string {
	doc.Find(boilerplate).Remove()
	content := doc.Find("main").First()
	if content.Length() == 0 {
		content = doc.Find("article").First()
	}
	if content.Length() == 0 {
		content = doc.Find("body").First()
	}

	markup, err := goquery.OuterHtml(content)
	if err == nil {
		text, err := docconv.XMLToText(strings.NewReader(markup), breakTags, nil, false)
		if err == nil {
			return extractor.CleanText(text)
		}
	}
	return extractor.CleanText(content.Text())
}

func normalize(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

// Combine joins the page texts the way a single text document would read.
func Combine(pages []Page) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}
