package repositories

import (
	"context"

	"github.com/collabset/backend/internal/models"
)

// ChatRepository persists messages exchanged on accepted collaborations.
type ChatRepository interface {
	// CreateMessage stores msg, assigning an identifier when msg.ID is empty.
	CreateMessage(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error)
	// ListMessages returns the newest limit messages of a collaboration in chronological order.
	ListMessages(ctx context.Context, collabID string, limit int) ([]models.ChatMessage, error)
	// MarkSeen flags messages not sent by readerID as seen and returns how many changed.
	MarkSeen(ctx context.Context, collabID, readerID string) (int, error)
}
