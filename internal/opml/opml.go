// Package opml imports and exports subscription lists as OPML.
//
// Folders in readrelay are flat, so nested outlines collapse to the
// innermost folder that contains a feed.
package opml

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/njoerd114/readrelay/internal/model"
)

// Document is the root of an OPML document.
type Document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a folder or a feed.
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// Entry is one feed with the folder it belongs to. Folder is empty for the
// root.
type Entry struct {
	Folder  string
	Title   string
	URL     string
	SiteURL string
}

// Parse reads an OPML document and returns its feeds in document order.
func Parse(r io.Reader) ([]Entry, error) {
	var doc Document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}

	var entries []Entry
	var walk func(outlines []Outline, folder string)
	walk = func(outlines []Outline, folder string) {
		for _, o := range outlines {
			if url := strings.TrimSpace(o.XMLURL); url != "" {
				title := strings.TrimSpace(o.Title)
				if title == "" {
					title = strings.TrimSpace(o.Text)
				}
				entries = append(entries, Entry{Folder: folder, Title: title, URL: url, SiteURL: o.HTMLURL})
				continue
			}
			name := strings.TrimSpace(o.Text)
			if name == "" {
				name = strings.TrimSpace(o.Title)
			}
			if name == "" {
				name = folder
			}
			walk(o.Outlines, name)
		}
	}
	walk(doc.Body.Outlines, "")
	return entries, nil
}

// Write renders entries as an OPML 2.0 document. Folders and the feeds
// inside them are sorted by name; root feeds come last.
func Write(w io.Writer, title string, entries []Entry, now time.Time) error {
	doc := Document{
		Version: "2.0",
		Head:    Head{Title: title, DateCreated: now.UTC().Format(time.RFC1123Z)},
	}

	byFolder := make(map[string][]Entry)
	var names []string
	for _, e := range entries {
		if _, ok := byFolder[e.Folder]; !ok && e.Folder != "" {
			names = append(names, e.Folder)
		}
		byFolder[e.Folder] = append(byFolder[e.Folder], e)
	}
	sort.Slice(names, func(i, j int) bool { return strings.ToLower(names[i]) < strings.ToLower(names[j]) })

	for _, name := range names {
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Text:     name,
			Title:    name,
			Outlines: feedOutlines(byFolder[name]),
		})
	}
	doc.Body.Outlines = append(doc.Body.Outlines, feedOutlines(byFolder[""])...)

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode opml: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func feedOutlines(entries []Entry) []Outline {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Title) < strings.ToLower(sorted[j].Title)
	})
	out := make([]Outline, 0, len(sorted))
	for _, e := range sorted {
		out = append(out, Outline{Text: e.Title, Title: e.Title, Type: "rss", XMLURL: e.URL, HTMLURL: e.SiteURL})
	}
	return out
}

// Entries builds export entries from an account's folders and feeds.
func Entries(folders []model.Folder, feeds []model.Feed) []Entry {
	names := make(map[int64]string, len(folders))
	for _, f := range folders {
		names[f.ID] = f.Name
	}
	out := make([]Entry, 0, len(feeds))
	for _, f := range feeds {
		e := Entry{Title: f.Name, URL: f.URL, SiteURL: f.SiteURL}
		if f.FolderID != nil {
			e.Folder = names[*f.FolderID]
		}
		out = append(out, e)
	}
	return out
}

// Target receives imported subscriptions.
// Implemented by [sync.Repository].
type Target interface {
	Folders(ctx context.Context) ([]model.Folder, error)
	Feeds(ctx context.Context) ([]model.Feed, error)
	AddFolder(ctx context.Context, name string) (model.Folder, error)
	AddFeed(ctx context.Context, feedURL, name string, folderID *int64) (model.Feed, error)
}

// ImportResult summarises an import.
type ImportResult struct {
	Added   int
	Skipped int // already subscribed
	Errors  []error
}

// Import subscribes target to every entry it does not already have. Folders
// are matched by name (case-insensitive) and created on demand. A failing
// entry is recorded and the import continues.
func Import(ctx context.Context, target Target, entries []Entry) (ImportResult, error) {
	var res ImportResult

	folders, err := target.Folders(ctx)
	if err != nil {
		return res, err
	}
	folderIDs := make(map[string]int64, len(folders))
	for _, f := range folders {
		folderIDs[strings.ToLower(f.Name)] = f.ID
	}

	feeds, err := target.Feeds(ctx)
	if err != nil {
		return res, err
	}
	subscribed := make(map[string]bool, len(feeds))
	for _, f := range feeds {
		subscribed[f.URL] = true
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if subscribed[e.URL] {
			res.Skipped++
			continue
		}

		var folderID *int64
		if e.Folder != "" {
			key := strings.ToLower(e.Folder)
			id, ok := folderIDs[key]
			if !ok {
				f, err := target.AddFolder(ctx, e.Folder)
				if err != nil {
					res.Errors = append(res.Errors, fmt.Errorf("folder %q: %w", e.Folder, err))
					continue
				}
				id = f.ID
				folderIDs[key] = id
			}
			folderID = &id
		}

		if _, err := target.AddFeed(ctx, e.URL, e.Title, folderID); err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("feed %q: %w", e.URL, err))
			continue
		}
		subscribed[e.URL] = true
		res.Added++
	}
	return res, nil
}
