// Package favicon discovers the icon URL of a website.
package favicon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
)

const (
	defaultTimeout = 10 * time.Second

	// maxPageBytes bounds how much of a page is parsed for <link> tags.
	maxPageBytes = 1 << 20
)

// ErrNotFound is returned when neither the page nor the site root offers an
// icon.
var ErrNotFound = errors.New("no favicon found")

// Resolver finds favicons. Results are cached per host, including failures,
// for the lifetime of the Resolver.
type Resolver struct {
	client *http.Client
	cache  sync.Map // host → string ("" marks a failed host)
}

// NewResolver returns a Resolver. A nil client gets a 10s timeout.
func NewResolver(client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Resolver{client: client}
}

// Resolve returns the absolute icon URL for the site serving pageURL. It
// prefers a <link rel="icon"> declared by the page and falls back to
// /favicon.ico at the site root.
func (r *Resolver) Resolve(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("favicon for %q: invalid URL", pageURL)
	}

	if v, ok := r.cache.Load(u.Host); ok {
		if icon := v.(string); icon != "" {
			return icon, nil
		}
		return "", fmt.Errorf("favicon for %s: %w", u.Host, ErrNotFound)
	}

	icon, err := r.fromPage(ctx, u)
	if err != nil {
		root := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/favicon.ico"}
		if r.exists(ctx, root.String()) {
			icon, err = root.String(), nil
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil || icon == "" {
		r.cache.Store(u.Host, "")
		return "", fmt.Errorf("favicon for %s: %w", u.Host, ErrNotFound)
	}
	r.cache.Store(u.Host, icon)
	return icon, nil
}

func (r *Resolver) fromPage(ctx context.Context, page *url.URL) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, page.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("got status %d", resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	href := findIcon(doc)
	if href == "" {
		return "", ErrNotFound
	}
	// Relative hrefs resolve against the final URL after redirects.
	base := page
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}
	resolved, err := base.Parse(href)
	if err != nil {
		return "", err
	}
	return resolved.String(), nil
}

// findIcon returns the href of the first <link> whose rel includes "icon".
func findIcon(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "link" {
		var rel, href string
		for _, a := range n.Attr {
			switch strings.ToLower(a.Key) {
			case "rel":
				rel = strings.ToLower(a.Val)
			case "href":
				href = strings.TrimSpace(a.Val)
			}
		}
		if href != "" {
			for _, token := range strings.Fields(rel) {
				if token == "icon" {
					return href
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if href := findIcon(c); href != "" {
			return href
		}
	}
	return ""
}

func (r *Resolver) exists(ctx context.Context, iconURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iconURL, nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBytes))
	return resp.StatusCode == http.StatusOK
}
