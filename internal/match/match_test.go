package match

import (
	"testing"
	"time"

	"github.com/njoerd114/readrelay/internal/backend"
)

func TestFolderName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"shelf/tech/news", "news"},
		{"user/-/label/Go", "Go"},
		{"news", "news"},
		{"tech/", "tech"},
		{"", ""},
		{"a//b", "b"},
	}
	for _, tc := range cases {
		if got := FolderName(tc.in); got != tc.want {
			t.Errorf("FolderName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFolder_NameFallsBackToLeaf(t *testing.T) {
	f := Folder(backend.RemoteFolder{ID: "shelf/tech/news"}, 7)
	if f.Name != "news" {
		t.Errorf("Name = %q, want news", f.Name)
	}
	if f.AccountID != 7 {
		t.Errorf("AccountID = %d, want 7", f.AccountID)
	}
	if f.RemoteID == nil || *f.RemoteID != "shelf/tech/news" {
		t.Errorf("RemoteID = %v, want shelf/tech/news", f.RemoteID)
	}

	named := Folder(backend.RemoteFolder{ID: "12", Name: " Tech "}, 7)
	if named.Name != "Tech" {
		t.Errorf("Name = %q, want Tech", named.Name)
	}
}

func TestFeed(t *testing.T) {
	f := Feed(backend.RemoteFeed{ID: "feed/1", URL: "https://go.dev/blog/feed.atom", FolderID: "user/-/label/Go"}, 3)
	if f.Name != "https://go.dev/blog/feed.atom" {
		t.Errorf("Name = %q, want URL fallback", f.Name)
	}
	if f.FolderRemoteID != "user/-/label/Go" {
		t.Errorf("FolderRemoteID = %q", f.FolderRemoteID)
	}
	if f.FolderID != nil {
		t.Errorf("FolderID should be left for the store, got %v", *f.FolderID)
	}
	if f.RemoteID == nil || *f.RemoteID != "feed/1" {
		t.Errorf("RemoteID = %v, want feed/1", f.RemoteID)
	}
}

func TestItem(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	pub := time.Date(2024, 5, 1, 10, 0, 0, 0, loc)
	it := Item(backend.RemoteItem{
		ID: "42", FeedID: "7", Title: "  Hello ", Content: "<p>x</p>",
		Published: pub, Read: true, Starred: true,
	})
	if it.RemoteID != "42" || it.FeedRemoteID != "7" {
		t.Errorf("ids = %q/%q, want 42/7", it.RemoteID, it.FeedRemoteID)
	}
	if it.Title != "Hello" {
		t.Errorf("Title = %q, want Hello", it.Title)
	}
	if !it.PubDate.Equal(pub) || it.PubDate.Location() != time.UTC {
		t.Errorf("PubDate = %v, want %v in UTC", it.PubDate, pub)
	}
	if !it.Read || !it.Starred {
		t.Errorf("flags lost: read=%v starred=%v", it.Read, it.Starred)
	}
	if it.FeedID != 0 || it.ReadTime != 0 {
		t.Errorf("FeedID/ReadTime should be unset, got %d/%f", it.FeedID, it.ReadTime)
	}
}

func TestItems_PreservesOrder(t *testing.T) {
	in := []backend.RemoteItem{{ID: "3"}, {ID: "1"}, {ID: "2"}}
	out := Items(in)
	for i, want := range []string{"3", "1", "2"} {
		if out[i].RemoteID != want {
			t.Errorf("out[%d] = %q, want %q", i, out[i].RemoteID, want)
		}
	}
}
