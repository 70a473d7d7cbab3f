package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Folder groups feeds. A nil RemoteID marks a folder that exists only locally.
type Folder struct {
	ID        int64
	Name      string
	AccountID int64
	RemoteID  *string
}

// Feed is a subscription. RemoteID is unique per account and is the join key
// during reconciliation; it never changes once assigned.
type Feed struct {
	ID        int64
	Name      string
	URL       string
	SiteURL   string
	IconURL   string
	AccountID int64
	FolderID  *int64
	RemoteID  *string

	// FolderRemoteID carries the remote folder reference between the matcher
	// and the store; it is not persisted.
	FolderRemoteID string
}

// Item is a single article. Everything except Read and Starred is immutable
// once inserted.
type Item struct {
	ID       int64
	FeedID   int64
	RemoteID string
	Title    string
	Content  string
	Author   string
	Link     string
	PubDate  time.Time
	Read     bool
	Starred  bool

	// ReadTime is the estimated reading time in minutes. Derived, not
	// authoritative.
	ReadTime float64

	// FeedRemoteID carries the remote feed reference between the matcher and
	// the orchestrator; it is not persisted.
	FeedRemoteID string
}

// ContentHash returns a deterministic SHA-256 hex digest of the fields that
// identify an article when its source provides no GUID.
func (i *Item) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(i.Title))
	h.Write([]byte("|"))
	h.Write([]byte(i.Link))
	h.Write([]byte("|"))
	if !i.PubDate.IsZero() {
		h.Write([]byte(i.PubDate.UTC().Format(time.RFC3339)))
	}
	h.Write([]byte("|"))
	h.Write([]byte(i.Content))
	return hex.EncodeToString(h.Sum(nil))
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns *s, or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
