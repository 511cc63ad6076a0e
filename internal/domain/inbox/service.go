package inbox

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medirec/medirec/internal/domain/account"
	"github.com/medirec/medirec/internal/platform/apperr"
	"github.com/medirec/medirec/internal/platform/auth"
	"github.com/medirec/medirec/internal/platform/db"
)

type AccountLookup interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*account.Account, error)
}

type Service struct {
	messages MessageRepository
	accounts AccountLookup
	tx       db.TxRunner
	logger   zerolog.Logger
}

func NewService(messages MessageRepository, accounts AccountLookup, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		messages: messages,
		accounts: accounts,
		tx:       tx,
		logger:   logger.With().Str("component", "inbox").Logger(),
	}
}

func (s *Service) Contacts(ctx context.Context, me auth.Identity) ([]*Contact, error) {
	out, err := s.messages.Contacts(ctx, me.AccountID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*Contact{}
	}
	return out, nil
}

// Conversation returns a page of the messages between me and contact, oldest
// first. Unread messages from contact on that page are marked read in the
// same transaction.
func (s *Service) Conversation(ctx context.Context, me auth.Identity, contact uuid.UUID, limit, offset int) ([]*Message, int, error) {
	if _, err := s.accounts.GetAccount(ctx, contact); err != nil {
		return nil, 0, err
	}

	var (
		page  []*Message
		total int
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		page, total, err = s.messages.Conversation(ctx, me.AccountID, contact, limit, offset)
		if err != nil {
			return err
		}
		var unread []uuid.UUID
		for _, m := range page {
			if m.SenderID == contact && !m.IsRead {
				unread = append(unread, m.ID)
			}
		}
		if err := s.messages.MarkRead(ctx, me.AccountID, unread); err != nil {
			return err
		}
		for _, m := range page {
			if m.SenderID == contact {
				m.IsRead = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	if page == nil {
		page = []*Message{}
	}
	return page, total, nil
}

func (s *Service) Send(ctx context.Context, me auth.Identity, recipient uuid.UUID, in SendInput) (*Message, error) {
	if recipient == me.AccountID {
		return nil, fmt.Errorf("%w: cannot send a message to yourself", apperr.ErrValidation)
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", apperr.ErrValidation)
	}
	if utf8.RuneCountInString(in.Content) > MaxContentLength {
		return nil, fmt.Errorf("%w: content must be at most %d characters", apperr.ErrValidation, MaxContentLength)
	}
	if _, err := s.accounts.GetAccount(ctx, recipient); err != nil {
		return nil, err
	}

	m := &Message{
		ID:          uuid.New(),
		SenderID:    me.AccountID,
		SenderName:  me.Name,
		RecipientID: recipient,
		Content:     in.Content,
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Debug().
		Str("message_id", m.ID.String()).
		Str("sender_id", m.SenderID.String()).
		Str("recipient_id", recipient.String()).
		Msg("message sent")
	return m, nil
}
