package sync

import (
	"fmt"
	"net/http"

	"github.com/njoerd114/readrelay/internal/backend"
	"github.com/njoerd114/readrelay/internal/backend/fever"
	"github.com/njoerd114/readrelay/internal/backend/freshrss"
	"github.com/njoerd114/readrelay/internal/backend/local"
	"github.com/njoerd114/readrelay/internal/backend/nextcloud"
	"github.com/njoerd114/readrelay/internal/model"
)

// ClientOptions tunes the HTTP side of every driver.
type ClientOptions struct {
	HTTPClient        *http.Client
	RequestsPerSecond float64
}

// NewClient returns the driver for the account's kind.
func NewClient(acct model.Account, opts ClientOptions) (backend.Client, error) {
	topts := backend.TransportOptions{
		HTTPClient:        opts.HTTPClient,
		RequestsPerSecond: opts.RequestsPerSecond,
	}
	var (
		c   backend.Client
		err error
	)
	switch acct.Kind {
	case model.KindLocal:
		c = local.New(local.Options{HTTPClient: opts.HTTPClient, RequestsPerSecond: opts.RequestsPerSecond})
	case model.KindFreshRSS:
		c, err = freshrss.New(acct.URL, acct.Token, topts)
	case model.KindNextcloud:
		c, err = nextcloud.New(acct.URL, acct.Login, acct.Password, topts)
	case model.KindFever:
		c, err = fever.New(acct.URL, acct.Login, acct.Password, topts)
	default:
		return nil, fmt.Errorf("account %q: unsupported kind %q", acct.Name, acct.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("account %q: %w", acct.Name, err)
	}
	return c, nil
}
