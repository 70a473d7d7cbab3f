package opml

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/njoerd114/readrelay/internal/model"
)

const sample = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>Subscriptions</title></head>
  <body>
    <outline text="Go Blog" type="rss" xmlUrl="https://go.dev/blog/feed.atom" htmlUrl="https://go.dev/blog"/>
    <outline text="Tech">
      <outline text="Hacker News" title="HN" type="rss" xmlUrl="https://news.ycombinator.com/rss"/>
      <outline text="Google">
        <outline text="Android" type="rss" xmlUrl="https://android.example.com/feed"/>
      </outline>
    </outline>
  </body>
</opml>`

func TestParse_FlattensToLeafFolder(t *testing.T) {
	entries, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Entry{
		{Title: "Go Blog", URL: "https://go.dev/blog/feed.atom", SiteURL: "https://go.dev/blog"},
		{Folder: "Tech", Title: "HN", URL: "https://news.ycombinator.com/rss"},
		{Folder: "Google", Title: "Android", URL: "https://android.example.com/feed"},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("entries = %+v\nwant %+v", entries, want)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse(strings.NewReader("<opml><body>")); err == nil {
		t.Error("expected error for truncated document")
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	in := []Entry{
		{Title: "Root Feed", URL: "https://root.example.com/rss"},
		{Folder: "zeta", Title: "Z", URL: "https://z.example.com/rss"},
		{Folder: "Alpha", Title: "b", URL: "https://b.example.com/rss"},
		{Folder: "Alpha", Title: "A", URL: "https://a.example.com/rss", SiteURL: "https://a.example.com"},
	}
	var buf bytes.Buffer
	if err := Write(&buf, "readrelay", in, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "<?xml") {
		t.Error("output should start with the XML header")
	}

	out, err := Parse(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var order []string
	for _, e := range out {
		order = append(order, e.Folder+"/"+e.Title)
	}
	want := []string{"Alpha/A", "Alpha/b", "zeta/Z", "/Root Feed"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if out[0].SiteURL != "https://a.example.com" {
		t.Errorf("SiteURL = %q, want kept", out[0].SiteURL)
	}
}

func TestEntries(t *testing.T) {
	folderID := int64(7)
	got := Entries(
		[]model.Folder{{ID: 7, Name: "Tech"}},
		[]model.Feed{
			{Name: "A", URL: "https://a.example.com/rss", FolderID: &folderID},
			{Name: "B", URL: "https://b.example.com/rss"},
		},
	)
	if got[0].Folder != "Tech" || got[1].Folder != "" {
		t.Errorf("entries = %+v", got)
	}
}

// --- Mock Target --------------------------------------------------------------

type mockTarget struct {
	folders []model.Folder
	feeds   []model.Feed
	failURL string
}

func (m *mockTarget) Folders(context.Context) ([]model.Folder, error) { return m.folders, nil }
func (m *mockTarget) Feeds(context.Context) ([]model.Feed, error)     { return m.feeds, nil }

func (m *mockTarget) AddFolder(_ context.Context, name string) (model.Folder, error) {
	f := model.Folder{ID: int64(len(m.folders) + 1), Name: name}
	m.folders = append(m.folders, f)
	return f, nil
}

func (m *mockTarget) AddFeed(_ context.Context, feedURL, name string, folderID *int64) (model.Feed, error) {
	if feedURL == m.failURL {
		return model.Feed{}, errors.New("unreachable")
	}
	f := model.Feed{ID: int64(len(m.feeds) + 1), Name: name, URL: feedURL, FolderID: folderID}
	m.feeds = append(m.feeds, f)
	return f, nil
}

func TestImport(t *testing.T) {
	entries, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	target := &mockTarget{
		folders: []model.Folder{{ID: 1, Name: "tech"}},
		feeds:   []model.Feed{{ID: 1, URL: "https://go.dev/blog/feed.atom"}},
		failURL: "https://android.example.com/feed",
	}

	res, err := Import(context.Background(), target, entries)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Added != 1 || res.Skipped != 1 || len(res.Errors) != 1 {
		t.Errorf("result = %+v, want 1 added, 1 skipped, 1 error", res)
	}
	hn := target.feeds[1]
	if hn.FolderID == nil || *hn.FolderID != 1 {
		t.Errorf("HN folder = %v, want existing folder 1", hn.FolderID)
	}
	if len(target.folders) != 2 || target.folders[1].Name != "Google" {
		t.Errorf("folders = %+v, want Google created", target.folders)
	}
	if !strings.Contains(fmt.Sprint(res.Errors[0]), "android") {
		t.Errorf("error = %v, want it to name the feed", res.Errors[0])
	}
}
