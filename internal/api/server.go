// Package api exposes a small JSON control API over HTTP: account status,
// on-demand syncs, item listing and read/star toggles.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/njoerd114/readrelay/internal/model"
	"github.com/njoerd114/readrelay/internal/state"
	"github.com/njoerd114/readrelay/internal/sync"
)

const (
	requestTimeout = 60 * time.Second
	maxPageSize    = 500
	paramID        = "id"
)

// Syncer triggers account syncs.
// Implemented by [sync.Engine].
type Syncer interface {
	SyncAccount(ctx context.Context, accountID int64) (*sync.Result, error)
}

// Store is the read side of the database plus the read/star toggles.
// Implemented by [state.Store].
type Store interface {
	Accounts(ctx context.Context) ([]model.Account, error)
	Account(ctx context.Context, id int64) (*model.Account, error)
	Item(ctx context.Context, id int64) (*model.Item, error)
	Items(ctx context.Context, q state.ItemQuery) ([]model.Item, error)
	SetItemRead(ctx context.Context, id int64, read bool) (bool, error)
	SetItemStarred(ctx context.Context, id int64, starred bool) error
}

// Server holds the API's dependencies.
type Server struct {
	syncer Syncer
	store  Store
	log    *slog.Logger
}

// NewServer creates a Server.
func NewServer(syncer Syncer, store Store, logger *slog.Logger) *Server {
	return &Server{syncer: syncer, store: store, log: logger}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", handleHealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Get("/accounts", s.listAccounts)
		r.Post("/accounts/{id}/sync", s.syncAccount)
		r.Get("/accounts/{id}/items", s.listItems)

		r.Put("/items/{id}/read", s.setRead(true))
		r.Delete("/items/{id}/read", s.setRead(false))
		r.Put("/items/{id}/star", s.setStarred(true))
		r.Delete("/items/{id}/star", s.setStarred(false))
	})

	return r
}

// logRequests logs one line per request with slog.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.Accounts(r.Context())
	if err != nil {
		s.internalError(w, "listing accounts", err)
		return
	}
	out := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, newAccountView(a))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) syncAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	res, err := s.syncer.SyncAccount(r.Context(), id)
	switch {
	case errors.Is(err, sync.ErrUnknownAccount):
		respondError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, sync.ErrSyncInProgress):
		respondError(w, http.StatusConflict, "sync already in progress")
	case err != nil:
		s.log.Warn("on-demand sync failed", "account_id", id, "error", err)
		respondError(w, http.StatusBadGateway, err.Error())
	default:
		respondJSON(w, http.StatusOK, newResultView(res))
	}
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	acct, err := s.store.Account(r.Context(), id)
	if err != nil {
		s.internalError(w, "loading account", err)
		return
	}
	if acct == nil {
		respondError(w, http.StatusNotFound, "account not found")
		return
	}

	q, err := parseItemQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	q.AccountID = id

	items, err := s.store.Items(r.Context(), q)
	if err != nil {
		s.internalError(w, "listing items", err)
		return
	}
	out := make([]itemView, 0, len(items))
	for _, it := range items {
		out = append(out, newItemView(it))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) setRead(read bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.itemParam(w, r)
		if !ok {
			return
		}
		if _, err := s.store.SetItemRead(r.Context(), id, read); err != nil {
			s.internalError(w, "setting read state", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) setStarred(starred bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.itemParam(w, r)
		if !ok {
			return
		}
		if err := s.store.SetItemStarred(r.Context(), id, starred); err != nil {
			s.internalError(w, "setting starred state", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// itemParam parses the item id and checks that the item exists.
func (s *Server) itemParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := idParam(w, r)
	if !ok {
		return 0, false
	}
	it, err := s.store.Item(r.Context(), id)
	if err != nil {
		s.internalError(w, "loading item", err)
		return 0, false
	}
	if it == nil {
		respondError(w, http.StatusNotFound, "item not found")
		return 0, false
	}
	return id, true
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op, "error", err)
	respondError(w, http.StatusInternalServerError, "internal server error")
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, paramID), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
