package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/collabset/backend/internal/lifecycle"
	"github.com/collabset/backend/internal/logging"
	"github.com/collabset/backend/internal/models"
	"github.com/collabset/backend/internal/realtime"
	"github.com/collabset/backend/internal/repositories"
)

// HistoryLimit caps how many messages List returns.
const HistoryLimit = 100

// MaxMessageLength is the longest accepted message, in runes.
const MaxMessageLength = 2000

var (
	// ErrChatClosed indicates the collaboration has not been accepted.
	ErrChatClosed = errors.New("chat is only open on accepted collaborations")
	// ErrEmptyMessage indicates a blank message body.
	ErrEmptyMessage = errors.New("message text is required")
	// ErrMessageTooLong indicates a message over MaxMessageLength.
	ErrMessageTooLong = errors.New("message text is too long")
)

// Requests looks up the collaboration a chat belongs to.
type Requests interface {
	FindRequest(ctx context.Context, id string) (models.CollabRequest, error)
}

// Service exposes messaging between the two parties of an accepted collaboration.
type Service struct {
	requests Requests
	messages repositories.ChatRepository
	mirror   lifecycle.Mirror
	now      func() time.Time
}

// NewService constructs a chat service. mirror may be nil.
func NewService(requests Requests, messages repositories.ChatRepository, mirror lifecycle.Mirror) *Service {
	return &Service{requests: requests, messages: messages, mirror: mirror, now: time.Now}
}

// WithNowFunc overrides the clock used for message timestamps.
func (s *Service) WithNowFunc(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// List returns the latest messages of the collaboration. Admins may read any chat.
func (s *Service) List(ctx context.Context, actor lifecycle.Actor, collabID string) ([]models.ChatMessage, error) {
	if _, err := s.authorize(ctx, actor, collabID, true); err != nil {
		return nil, err
	}
	messages, err := s.messages.ListMessages(ctx, collabID, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	return messages, nil
}

// Send stores a message from actor on the collaboration.
func (s *Service) Send(ctx context.Context, actor lifecycle.Actor, collabID, text string) (models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatMessage{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return models.ChatMessage{}, ErrMessageTooLong
	}
	if _, err := s.authorize(ctx, actor, collabID, false); err != nil {
		return models.ChatMessage{}, err
	}

	msg, err := s.messages.CreateMessage(ctx, models.ChatMessage{
		CollabID:  collabID,
		SenderID:  actor.ID,
		Text:      text,
		Timestamp: s.now().UTC(),
	})
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("create message: %w", err)
	}

	s.mirrorMessage(ctx, msg)
	logging.FromContext(ctx).Info("chat message sent",
		slog.String("collab_id", collabID),
		slog.String("message_id", msg.ID),
	)
	return msg, nil
}

// MarkSeen flags the counterparty's messages as seen by actor.
func (s *Service) MarkSeen(ctx context.Context, actor lifecycle.Actor, collabID string) (int, error) {
	if _, err := s.authorize(ctx, actor, collabID, false); err != nil {
		return 0, err
	}
	changed, err := s.messages.MarkSeen(ctx, collabID, actor.ID)
	if err != nil {
		return 0, fmt.Errorf("mark seen: %w", err)
	}
	if changed > 0 && s.mirror != nil {
		messages, err := s.messages.ListMessages(ctx, collabID, HistoryLimit)
		if err != nil {
			logging.FromContext(ctx).Warn("reload messages for mirror failed", slog.Any("error", err))
			return changed, nil
		}
		for _, msg := range messages {
			if msg.SenderID != actor.ID {
				s.mirrorMessage(ctx, msg)
			}
		}
	}
	return changed, nil
}

func (s *Service) authorize(ctx context.Context, actor lifecycle.Actor, collabID string, adminRead bool) (models.CollabRequest, error) {
	req, err := s.requests.FindRequest(ctx, collabID)
	if err != nil {
		return models.CollabRequest{}, fmt.Errorf("find collaboration: %w", err)
	}
	if !req.Involves(actor.ID) && !(adminRead && actor.IsAdmin()) {
		return models.CollabRequest{}, lifecycle.ErrForbidden
	}
	if req.Status != models.RequestAccepted {
		return models.CollabRequest{}, ErrChatClosed
	}
	return req, nil
}

// MessagesPath is the realtime tree path holding a collaboration's messages.
func MessagesPath(collabID string) string {
	return "chats/" + collabID + "/messages"
}

// messageSuperseded keeps a seen flag from being cleared by a late write of the unseen message.
func messageSuperseded(stored, incoming models.ChatMessage) bool {
	return stored.Seen && !incoming.Seen
}

func (s *Service) mirrorMessage(ctx context.Context, msg models.ChatMessage) {
	if s.mirror == nil {
		return
	}
	path := MessagesPath(msg.CollabID) + "/" + msg.ID
	if _, err := realtime.WriteUnlessSuperseded(s.mirror, path, msg, messageSuperseded); err != nil {
		logging.FromContext(ctx).Warn("mirror write failed", slog.String("path", path), slog.Any("error", err))
	}
}
