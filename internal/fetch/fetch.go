// Package fetch retrieves a web page and reduces it to a summary compact
// enough to attach to a conversation.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

const maxParagraphs = 8

// Page is the cleaned result of one fetch.
type Page struct {
	URL         string
	Status      int
	Title       string
	Description string
	Headings    []string
	Paragraphs  []string
	Bytes       int
	Truncated   bool
	FetchedAt   time.Time
}

// Fetcher downloads pages with a hard size ceiling.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

func New(timeout time.Duration, maxBytes int64) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 2 << 20
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch downloads rawURL and extracts title, description, headings and the
// substantial paragraphs.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	rawURL = normalizeURL(rawURL)
	if rawURL == "" {
		return nil, errors.New("url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Parley/1.0 (+https://github.com/parley-chat/parley)")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	limited := &io.LimitedReader{R: resp.Body, N: f.maxBytes}
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	truncated := limited.N == 0

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	page := &Page{
		URL:         resp.Request.URL.String(),
		Status:      resp.StatusCode,
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", "")),
		Bytes:       len(body),
		Truncated:   truncated,
		FetchedAt:   time.Now(),
	}

	doc.Find("h1, h2, h3").Each(func(_ int, sel *goquery.Selection) {
		if text := normalizeWhitespace(sel.Text()); text != "" {
			page.Headings = append(page.Headings, text)
		}
	})

	doc.Find("p").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(page.Paragraphs) >= maxParagraphs {
			return false
		}
		text := normalizeWhitespace(sel.Text())
		if len(text) < 40 { // skip super short fragments
			return true
		}
		page.Paragraphs = append(page.Paragraphs, text)
		return true
	})

	return page, nil
}

// Markdown renders the page summary as a small markdown document.
func (p *Page) Markdown() string {
	var b strings.Builder

	title := p.Title
	if title == "" {
		title = p.URL
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Source: %s (fetched %s)\n\n", p.URL, p.FetchedAt.UTC().Format(time.RFC3339))
	if p.Description != "" {
		fmt.Fprintf(&b, "> %s\n\n", p.Description)
	}
	if len(p.Headings) > 0 {
		b.WriteString("## Outline\n\n")
		for _, h := range p.Headings {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		b.WriteString("\n")
	}
	for _, para := range p.Paragraphs {
		b.WriteString(para)
		b.WriteString("\n\n")
	}
	if p.Truncated {
		b.WriteString("(content truncated at the download limit)\n")
	}
	return b.String()
}

// SuggestedFilename derives an attachment name from the page host.
func (p *Page) SuggestedFilename() string {
	u, err := url.Parse(p.URL)
	if err != nil || u.Host == "" {
		return "page.md"
	}
	host := strings.TrimPrefix(u.Host, "www.")
	host = strings.ReplaceAll(host, ":", "-")
	return host + ".md"
}

// normalizeURL trims the input and defaults the scheme to https.
func normalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	return raw
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
