package inbox

import (
	"context"

	"github.com/google/uuid"
)

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	// Contacts lists everyone accountID has exchanged messages with, most
	// recent conversation first.
	Contacts(ctx context.Context, accountID uuid.UUID) ([]*Contact, error)
	// Conversation pages through the messages between a and b, oldest first.
	Conversation(ctx context.Context, a, b uuid.UUID, limit, offset int) ([]*Message, int, error)
	// MarkRead flags the given messages addressed to recipient as read.
	MarkRead(ctx context.Context, recipient uuid.UUID, ids []uuid.UUID) error
}
