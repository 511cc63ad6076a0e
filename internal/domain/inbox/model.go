package inbox

import (
	"time"

	"github.com/google/uuid"
)

const MaxContentLength = 5000

type Message struct {
	ID          uuid.UUID `json:"id"`
	SenderID    uuid.UUID `json:"sender_id"`
	SenderName  string    `json:"sender_name"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Content     string    `json:"content"`
	SentAt      time.Time `json:"sent_at"`
	IsRead      bool      `json:"is_read"`
}

// Contact summarizes the conversation with one other account.
type Contact struct {
	ContactID          uuid.UUID `json:"contact_id"`
	ContactName        string    `json:"contact_name"`
	ContactRole        string    `json:"contact_role"`
	AvatarURL          *string   `json:"avatar_url,omitempty"`
	LastMessageContent string    `json:"last_message_content"`
	LastMessageAt      time.Time `json:"last_message_at"`
	UnreadCount        int       `json:"unread_count"`
}

type SendInput struct {
	Content string `json:"content"`
}
