package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/collabset/backend/internal/logging"
	"github.com/collabset/backend/internal/models"
)

// ErrStorageUnavailable indicates no object store has been configured.
var ErrStorageUnavailable = errors.New("snapshot storage unavailable")

// Users lists every party account.
type Users interface {
	List(ctx context.Context) ([]models.User, error)
}

// Ledger lists requests and deals. An empty partyID selects every record.
type Ledger interface {
	ListRequestsForParty(ctx context.Context, partyID string) ([]models.CollabRequest, error)
	ListDealsForParty(ctx context.Context, partyID string) ([]models.Deal, error)
}

// Saver persists a named object and returns its location.
type Saver interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

// Document is the exported ledger, keyed the same way as the realtime tree.
type Document struct {
	ExportedAt time.Time                       `json:"exportedAt"`
	Users      map[string]models.User          `json:"users"`
	Requests   map[string]models.CollabRequest `json:"requests"`
	Deals      map[string]models.Deal          `json:"deals"`
}

// Result describes a completed export.
type Result struct {
	Key      string    `json:"key"`
	Location string    `json:"location"`
	Users    int       `json:"users"`
	Requests int       `json:"requests"`
	Deals    int       `json:"deals"`
	At       time.Time `json:"exportedAt"`
}

// Exporter builds ledger documents and uploads them to object storage.
type Exporter struct {
	Users   Users
	Ledger  Ledger
	Saver   Saver
	NowFunc func() time.Time
}

func (e *Exporter) now() time.Time {
	if e.NowFunc != nil {
		return e.NowFunc().UTC()
	}
	return time.Now().UTC()
}

// Build reads the current users, requests and deals. Password hashes never leave the
// user repository because models.User does not serialize them.
func (e *Exporter) Build(ctx context.Context) (Document, error) {
	users, err := e.Users.List(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("list users: %w", err)
	}
	requests, err := e.Ledger.ListRequestsForParty(ctx, "")
	if err != nil {
		return Document{}, fmt.Errorf("list requests: %w", err)
	}
	deals, err := e.Ledger.ListDealsForParty(ctx, "")
	if err != nil {
		return Document{}, fmt.Errorf("list deals: %w", err)
	}

	doc := Document{
		ExportedAt: e.now(),
		Users:      make(map[string]models.User, len(users)),
		Requests:   make(map[string]models.CollabRequest, len(requests)),
		Deals:      make(map[string]models.Deal, len(deals)),
	}
	for _, u := range users {
		u.Password = ""
		doc.Users[u.ID] = u
	}
	for _, r := range requests {
		doc.Requests[r.ID] = r
	}
	for _, d := range deals {
		doc.Deals[d.ID] = d
	}
	return doc, nil
}

// Export builds a document and uploads it as snapshots/<RFC3339>.json.
func (e *Exporter) Export(ctx context.Context) (Result, error) {
	if e == nil || e.Saver == nil {
		return Result{}, ErrStorageUnavailable
	}

	ctx, span := logging.StartSpan(ctx, "snapshot.Export")
	defer span.End()

	doc, err := e.Build(ctx)
	if err != nil {
		return Result{}, err
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return Result{}, fmt.Errorf("encode snapshot: %w", err)
	}

	key := fmt.Sprintf("snapshots/%s.json", doc.ExportedAt.Format(time.RFC3339))
	location, err := e.Saver.Save(ctx, key, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("save snapshot: %w", err)
	}

	result := Result{
		Key:      key,
		Location: location,
		Users:    len(doc.Users),
		Requests: len(doc.Requests),
		Deals:    len(doc.Deals),
		At:       doc.ExportedAt,
	}
	logging.FromContext(ctx).Info("ledger snapshot exported",
		slog.String("key", key),
		slog.Int("requests", result.Requests),
		slog.Int("deals", result.Deals),
	)
	return result, nil
}
