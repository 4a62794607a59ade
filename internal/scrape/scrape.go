// Package scrape fetches web pages and reduces them to readable text.
package scrape

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

const (
	DefaultMaxChars = 20000
	DefaultTimeout  = 30 * time.Second

	userAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxBodySize = 10 << 20
)

var (
	// ErrNotHTML is returned for responses that are not text/html.
	ErrNotHTML = errors.New("content is not html")
	// ErrFetchFailed wraps transport failures and non-2xx statuses.
	ErrFetchFailed = errors.New("fetch failed")
)

// Page is a fetched and flattened HTML document.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Options configures a Fetcher.
type Options struct {
	Timeout            time.Duration
	MaxChars           int
	InsecureSkipVerify bool
}

// Fetcher downloads HTML pages.
type Fetcher struct {
	client   *http.Client
	maxChars int
}

func NewFetcher(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via scrape.insecure_skip_verify
	}
	return &Fetcher{
		client:   &http.Client{Timeout: opts.Timeout, Transport: transport},
		maxChars: opts.MaxChars,
	}
}

// Fetch downloads url and returns its visible text.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Page, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %s: %v", ErrFetchFailed, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Page{}, fmt.Errorf("%w: %s: HTTP %d", ErrFetchFailed, url, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTML(contentType) {
		return Page{}, fmt.Errorf("%w: %s (%s)", ErrNotHTML, url, contentType)
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, maxBodySize), contentType)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %s: decode charset: %v", ErrFetchFailed, url, err)
	}
	title, text, err := extract(body, f.maxChars)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %s: %v", ErrFetchFailed, url, err)
	}
	return Page{URL: url, Title: title, Text: text}, nil
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "text/html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// ExtractText returns the visible text of an HTML document, with script,
// style and noscript removed and whitespace collapsed, capped at
// DefaultMaxChars characters.
func ExtractText(document string) string {
	_, text, err := extract(strings.NewReader(document), DefaultMaxChars)
	if err != nil {
		return ""
	}
	return text
}

// extract parses an HTML document and returns its title and visible text,
// the text capped at maxChars runes.
func extract(r io.Reader, maxChars int) (title, text string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	return findTitle(doc), truncateRunes(renderText(doc), maxChars), nil
}

var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
	"head":     true,
}

func renderText(doc *html.Node) string {
	var words []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			words = append(words, strings.Fields(n.Data)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(words, " ")
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		return strings.Join(strings.Fields(b.String()), " ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
