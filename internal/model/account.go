// Package model defines the canonical entities shared by the store, the
// backend drivers and the sync orchestrator.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the protocol an account speaks.
type Kind string

const (
	// KindLocal fetches feeds directly; the local store is the source of truth.
	KindLocal Kind = "local"
	// KindFreshRSS speaks the Google Reader API exposed by FreshRSS.
	KindFreshRSS Kind = "freshrss"
	// KindNextcloud speaks the Nextcloud News v1-2 API.
	KindNextcloud Kind = "nextcloud"
	// KindFever speaks the Fever API.
	KindFever Kind = "fever"
)

// ParseKind maps a config string (case-insensitive) to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindLocal, KindFreshRSS, KindNextcloud, KindFever:
		return k, nil
	default:
		return "", fmt.Errorf("unknown account kind %q", s)
	}
}

// Remote reports whether accounts of this kind talk to a server.
func (k Kind) Remote() bool {
	return k != KindLocal
}

// Account is one configured source of feeds. It is passed around by value;
// only the sync orchestrator writes it back to the store.
type Account struct {
	ID   int64
	Name string
	Kind Kind

	// URL is the server base URL. Empty for local accounts.
	URL string

	Login string

	// Password comes from the config file and is never persisted.
	Password string

	// Token is the read/login token. Some backends authenticate every request
	// with Login/Password and leave it empty.
	Token string

	// WriteToken is the secondary credential some backends require for
	// mutating calls. Empty until first needed.
	WriteToken string

	DisplayName string

	// Watermark is the backend-specific "synced up to here" cursor. Zero means
	// the account has never completed a sync.
	Watermark int64

	// LastSyncedAt is when the watermark last advanced.
	LastSyncedAt time.Time
}

// NeverSynced reports whether the next sync must be an initial one.
func (a Account) NeverSynced() bool {
	return a.Watermark == 0
}
