package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/njoerd114/readrelay/internal/model"
	"github.com/njoerd114/readrelay/internal/state"
	"github.com/njoerd114/readrelay/internal/sync"
)

type accountView struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Kind         model.Kind `json:"kind"`
	URL          string     `json:"url,omitempty"`
	DisplayName  string     `json:"display_name,omitempty"`
	LoggedIn     bool       `json:"logged_in"`
	Watermark    int64      `json:"watermark"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

func newAccountView(a model.Account) accountView {
	v := accountView{
		ID:          a.ID,
		Name:        a.Name,
		Kind:        a.Kind,
		URL:         a.URL,
		DisplayName: a.DisplayName,
		LoggedIn:    !a.Kind.Remote() || a.DisplayName != "",
		Watermark:   a.Watermark,
	}
	if !a.LastSyncedAt.IsZero() {
		t := a.LastSyncedAt
		v.LastSyncedAt = &t
	}
	return v
}

type itemView struct {
	ID       int64     `json:"id"`
	FeedID   int64     `json:"feed_id"`
	Title    string    `json:"title"`
	Author   string    `json:"author,omitempty"`
	Link     string    `json:"link,omitempty"`
	Content  string    `json:"content,omitempty"`
	PubDate  time.Time `json:"pub_date"`
	Read     bool      `json:"read"`
	Starred  bool      `json:"starred"`
	ReadTime float64   `json:"read_time"`
}

func newItemView(it model.Item) itemView {
	return itemView{
		ID:       it.ID,
		FeedID:   it.FeedID,
		Title:    it.Title,
		Author:   it.Author,
		Link:     it.Link,
		Content:  it.Content,
		PubDate:  it.PubDate,
		Read:     it.Read,
		Starred:  it.Starred,
		ReadTime: it.ReadTime,
	}
}

type resultView struct {
	Account   string            `json:"account"`
	Mode      string            `json:"mode"`
	Inserted  int               `json:"inserted"`
	Skipped   int               `json:"skipped"`
	Pushed    int               `json:"pushed"`
	NewFeeds  int               `json:"new_feeds"`
	Conflicts int               `json:"conflicts"`
	Failed    map[string]string `json:"failed,omitempty"`
	Watermark int64             `json:"watermark"`
}

func newResultView(r *sync.Result) resultView {
	v := resultView{
		Account:   r.Account,
		Mode:      r.Mode.String(),
		Inserted:  r.Inserted,
		Skipped:   r.Skipped,
		Pushed:    r.Pushed,
		NewFeeds:  len(r.NewFeeds),
		Conflicts: len(r.Conflicts),
		Watermark: r.Watermark,
	}
	if len(r.Failed) > 0 {
		v.Failed = make(map[string]string, len(r.Failed))
		for c, err := range r.Failed {
			v.Failed[string(c)] = err.Error()
		}
	}
	return v
}

// parseItemQuery reads feed, folder, unread, starred, order, limit and
// offset from the query string.
func parseItemQuery(r *http.Request) (state.ItemQuery, error) {
	v := r.URL.Query()
	q := state.ItemQuery{Limit: 100}

	ints := []struct {
		name string
		dst  *int64
	}{{"feed", &q.FeedID}, {"folder", &q.FolderID}}
	for _, p := range ints {
		if s := v.Get(p.name); s != "" {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil || n <= 0 {
				return q, fmt.Errorf("invalid %s %q", p.name, s)
			}
			*p.dst = n
		}
	}

	bools := []struct {
		name string
		dst  *bool
	}{{"unread", &q.UnreadOnly}, {"starred", &q.StarredOnly}}
	for _, p := range bools {
		if s := v.Get(p.name); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return q, fmt.Errorf("invalid %s %q", p.name, s)
			}
			*p.dst = b
		}
	}

	switch v.Get("order") {
	case "", "newest":
	case "oldest":
		q.OldestFirst = true
	default:
		return q, errors.New(`order must be "newest" or "oldest"`)
	}

	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxPageSize {
			return q, fmt.Errorf("limit must be between 1 and %d", maxPageSize)
		}
		q.Limit = n
	}
	if s := v.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid offset %q", s)
		}
		q.Offset = n
	}
	return q, nil
}
