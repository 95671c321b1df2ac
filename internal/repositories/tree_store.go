package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/collabset/backend/internal/models"
	"github.com/collabset/backend/internal/realtime"
)

// Tree paths used by TreeStore. Password hashes live outside users/ so that party records
// can be streamed and exported without secrets.
const (
	usersPath       = "users"
	credentialsPath = "credentials"
	requestsPath    = "requests"
	dealsPath       = "deals"
	chatsPath       = "chats"
)

type credential struct {
	PasswordHash string `json:"passwordHash"`
}

// TreeStore implements the repository contracts on a realtime.Tree. Every check-then-write
// runs inside Tree.Atomic.
type TreeStore struct {
	tree *realtime.Tree
}

// NewTreeStore wraps tree.
func NewTreeStore(tree *realtime.Tree) *TreeStore {
	return &TreeStore{tree: tree}
}

// Tree exposes the underlying document for subscribers.
func (s *TreeStore) Tree() *realtime.Tree {
	return s.tree
}

type reader interface {
	Get(path string) (any, bool)
	Decode(path string, out any) error
}

func decodeRecord(r reader, path string, out any) error {
	if err := r.Decode(path, out); err != nil {
		if errors.Is(err, realtime.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func decodeChildren[T any](r reader, path string) ([]T, error) {
	v, ok := r.Get(path)
	if !ok {
		return nil, nil
	}
	children, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected object node", path)
	}
	out := make([]T, 0, len(children))
	for key, child := range children {
		var record T
		if err := realtime.DecodeValue(child, &record); err != nil {
			return nil, fmt.Errorf("%s/%s: %w", path, key, err)
		}
		out = append(out, record)
	}
	return out, nil
}

func childPath(parts ...string) string {
	return strings.Join(parts, "/")
}

// Create persists a new user and its credential.
func (s *TreeStore) Create(_ context.Context, user models.User) error {
	return s.tree.Atomic(func(txn *realtime.Txn) error {
		if _, ok := txn.Get(childPath(usersPath, user.ID)); ok {
			return ErrConflict
		}
		users, err := decodeChildren[models.User](txn, usersPath)
		if err != nil {
			return err
		}
		for _, existing := range users {
			if strings.EqualFold(existing.Email, user.Email) {
				return ErrConflict
			}
		}
		return writeUser(txn, user)
	})
}

func writeUser(txn *realtime.Txn, user models.User) error {
	user.Email = strings.ToLower(user.Email)
	if err := txn.Write(childPath(usersPath, user.ID), user); err != nil {
		return err
	}
	return txn.Write(childPath(credentialsPath, user.ID), credential{PasswordHash: user.Password})
}

// FindByID fetches a user by identifier.
func (s *TreeStore) FindByID(_ context.Context, id string) (models.User, error) {
	var user models.User
	if err := decodeRecord(s.tree, childPath(usersPath, id), &user); err != nil {
		return models.User{}, err
	}
	var cred credential
	if err := decodeRecord(s.tree, childPath(credentialsPath, id), &cred); err == nil {
		user.Password = cred.PasswordHash
	}
	return user, nil
}

// FindUser fetches a party by identifier.
func (s *TreeStore) FindUser(ctx context.Context, id string) (models.User, error) {
	return s.FindByID(ctx, id)
}

// FindByEmail fetches a user by email, ignoring case.
func (s *TreeStore) FindByEmail(ctx context.Context, email string) (models.User, error) {
	users, err := decodeChildren[models.User](s.tree, usersPath)
	if err != nil {
		return models.User{}, err
	}
	for _, user := range users {
		if strings.EqualFold(user.Email, email) {
			return s.FindByID(ctx, user.ID)
		}
	}
	return models.User{}, ErrNotFound
}

// UpdateUser applies mutate to the current user and writes the result atomically.
func (s *TreeStore) UpdateUser(_ context.Context, id string, mutate func(models.User) (models.User, error)) (models.User, error) {
	var updated models.User
	err := s.tree.Atomic(func(txn *realtime.Txn) error {
		var current models.User
		if err := decodeRecord(txn, childPath(usersPath, id), &current); err != nil {
			return err
		}
		var cred credential
		if err := decodeRecord(txn, childPath(credentialsPath, id), &cred); err == nil {
			current.Password = cred.PasswordHash
		}

		var err error
		if updated, err = mutate(current); err != nil {
			return err
		}
		updated.ID = id

		users, err := decodeChildren[models.User](txn, usersPath)
		if err != nil {
			return err
		}
		for _, existing := range users {
			if existing.ID != id && strings.EqualFold(existing.Email, updated.Email) {
				return ErrConflict
			}
		}
		return writeUser(txn, updated)
	})
	if err != nil {
		return models.User{}, err
	}
	updated.Email = strings.ToLower(updated.Email)
	return updated, nil
}

// List returns every user ordered by signup time. Password hashes are not loaded.
func (s *TreeStore) List(_ context.Context) ([]models.User, error) {
	users, err := decodeChildren[models.User](s.tree, usersPath)
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

// CreateRequest persists a new request. A Pending request already open between the same
// pair yields ErrConflict.
func (s *TreeStore) CreateRequest(_ context.Context, req models.CollabRequest) error {
	return s.tree.Atomic(func(txn *realtime.Txn) error {
		if _, ok := txn.Get(childPath(requestsPath, req.ID)); ok {
			return ErrConflict
		}
		if req.Status == models.RequestPending {
			existing, err := decodeChildren[models.CollabRequest](txn, requestsPath)
			if err != nil {
				return err
			}
			key := PairKey(req.FromID, req.ToID)
			for _, other := range existing {
				if other.Status == models.RequestPending && PairKey(other.FromID, other.ToID) == key {
					return ErrConflict
				}
			}
		}
		return txn.Write(childPath(requestsPath, req.ID), req)
	})
}

// FindRequest fetches a collab request by identifier.
func (s *TreeStore) FindRequest(_ context.Context, id string) (models.CollabRequest, error) {
	var req models.CollabRequest
	if err := decodeRecord(s.tree, childPath(requestsPath, id), &req); err != nil {
		return models.CollabRequest{}, err
	}
	return req, nil
}

// ListRequestsForParty returns requests involving the party, newest first.
func (s *TreeStore) ListRequestsForParty(_ context.Context, partyID string) ([]models.CollabRequest, error) {
	all, err := decodeChildren[models.CollabRequest](s.tree, requestsPath)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, req := range all {
		if partyID == "" || req.Involves(partyID) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// ResolveRequest applies resolve to the current request and writes the request and any
// returned deal in one atomic commit.
func (s *TreeStore) ResolveRequest(_ context.Context, id string, resolve func(models.CollabRequest) (models.CollabRequest, *models.Deal, error)) (models.CollabRequest, *models.Deal, error) {
	var (
		resolved models.CollabRequest
		deal     *models.Deal
	)
	err := s.tree.Atomic(func(txn *realtime.Txn) error {
		var current models.CollabRequest
		if err := decodeRecord(txn, childPath(requestsPath, id), &current); err != nil {
			return err
		}

		var err error
		resolved, deal, err = resolve(current)
		if err != nil {
			return err
		}
		if err := txn.Write(childPath(requestsPath, id), resolved); err != nil {
			return err
		}
		if deal == nil {
			return nil
		}

		deals, err := decodeChildren[models.Deal](txn, dealsPath)
		if err != nil {
			return err
		}
		for _, existing := range deals {
			if existing.ID == deal.ID || existing.RequestID == deal.RequestID {
				return ErrConflict
			}
		}
		return txn.Write(childPath(dealsPath, deal.ID), *deal)
	})
	if err != nil {
		return models.CollabRequest{}, nil, err
	}
	return resolved, deal, nil
}

// FindDeal fetches a deal by identifier.
func (s *TreeStore) FindDeal(_ context.Context, id string) (models.Deal, error) {
	var deal models.Deal
	if err := decodeRecord(s.tree, childPath(dealsPath, id), &deal); err != nil {
		return models.Deal{}, err
	}
	return deal, nil
}

// ListDealsForParty returns deals involving the party, newest first.
func (s *TreeStore) ListDealsForParty(_ context.Context, partyID string) ([]models.Deal, error) {
	all, err := decodeChildren[models.Deal](s.tree, dealsPath)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, d := range all {
		if partyID == "" || d.Involves(partyID) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// UpdateDeal applies mutate to the current deal and writes the result atomically.
func (s *TreeStore) UpdateDeal(_ context.Context, id string, mutate func(models.Deal) (models.Deal, error)) (models.Deal, error) {
	var updated models.Deal
	err := s.tree.Atomic(func(txn *realtime.Txn) error {
		var current models.Deal
		if err := decodeRecord(txn, childPath(dealsPath, id), &current); err != nil {
			return err
		}
		var err error
		if updated, err = mutate(current); err != nil {
			return err
		}
		return txn.Write(childPath(dealsPath, id), updated)
	})
	if err != nil {
		return models.Deal{}, err
	}
	return updated, nil
}

func messagesPath(collabID string) string {
	return childPath(chatsPath, collabID, "messages")
}

// CreateMessage stores msg under the collaboration's message list, allocating a push key
// when msg has no identifier.
func (s *TreeStore) CreateMessage(_ context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	err := s.tree.Atomic(func(txn *realtime.Txn) error {
		if msg.ID != "" {
			return txn.Write(childPath(messagesPath(msg.CollabID), msg.ID), msg)
		}
		key, err := txn.Push(messagesPath(msg.CollabID), msg)
		if err != nil {
			return err
		}
		msg.ID = key
		return txn.Update(childPath(messagesPath(msg.CollabID), key), map[string]any{"id": key})
	})
	if err != nil {
		return models.ChatMessage{}, err
	}
	return msg, nil
}

// ListMessages returns the newest limit messages in chronological order.
func (s *TreeStore) ListMessages(_ context.Context, collabID string, limit int) ([]models.ChatMessage, error) {
	messages, err := decodeChildren[models.ChatMessage](s.tree, messagesPath(collabID))
	if err != nil {
		return nil, err
	}
	SortMessages(messages)
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

// MarkSeen flags the counterparty's unseen messages as seen.
func (s *TreeStore) MarkSeen(_ context.Context, collabID, readerID string) (int, error) {
	var changed int
	err := s.tree.Atomic(func(txn *realtime.Txn) error {
		messages, err := decodeChildren[models.ChatMessage](txn, messagesPath(collabID))
		if err != nil {
			return err
		}
		fields := make(map[string]any)
		for _, msg := range messages {
			if msg.SenderID != readerID && !msg.Seen {
				fields[childPath(msg.ID, "seen")] = true
			}
		}
		changed = len(fields)
		if changed == 0 {
			return nil
		}
		return txn.Update(messagesPath(collabID), fields)
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// SortMessages orders messages chronologically, breaking ties by identifier.
func SortMessages(messages []models.ChatMessage) {
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].Timestamp.Equal(messages[j].Timestamp) {
			return messages[i].ID < messages[j].ID
		}
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}

var _ UserRepository = (*TreeStore)(nil)
var _ LedgerRepository = (*TreeStore)(nil)
var _ ChatRepository = (*TreeStore)(nil)
