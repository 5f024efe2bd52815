package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/taskhub/chat-service/internal/auth"
)

// Validation failures of the send pipeline. Each maps 1:1 to a wire-level
// error reason; transports translate them, callers match with errors.Is.
var (
	ErrEmptyContent     = errors.New("message content is empty")
	ErrContentTooLong   = errors.New("message too long")
	ErrSenderMismatch   = errors.New("sender id does not match authenticated user")
	ErrReceiverNotFound = errors.New("receiver does not exist")
	ErrNotReceiver      = errors.New("only the receiver may mark a message as read")
	ErrMessageNotFound  = errors.New("message not found")
)

// UnreadCache is the optional side cache for unread counts.
type UnreadCache interface {
	Get(ctx context.Context, userID int64) (count int64, ok bool, err error)
	Set(ctx context.Context, userID int64, count int64) error
	Invalidate(ctx context.Context, userID int64) error
}

// EventPublisher is the optional message-created event sink.
type EventPublisher interface {
	PublishMessageCreated(ctx context.Context, messageID int64) error
}

// SendInput is a fully parsed send request. Transports build it from their
// own payload shapes; no unchecked client input reaches the service.
type SendInput struct {
	SenderID   int64
	ReceiverID int64
	Content    string
}

// Service runs the validate-persist pipeline and the read paths shared by
// the socket channel and the REST fallback.
type Service struct {
	repo       *Repo
	cache      UnreadCache
	events     EventPublisher
	maxContent int
	log        *zap.Logger
}

func NewService(repo *Repo, cache UnreadCache, events EventPublisher, maxContent int, log *zap.Logger) *Service {
	if maxContent <= 0 {
		maxContent = 2000
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, cache: cache, events: events, maxContent: maxContent, log: log}
}

// MaxContentLen is the enforced content bound in runes after trimming.
func (s *Service) MaxContentLen() int { return s.maxContent }

// Send validates one message against the connection's identity, persists it,
// and returns the canonical row (store-assigned id and timestamp, display
// names joined in). Validation failures never leave a partial write.
func (s *Service) Send(ctx context.Context, ident auth.Identity, in SendInput) (*Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > s.maxContent {
		return nil, ErrContentTooLong
	}

	// The sender claim in the payload is never trusted on its own.
	if in.SenderID != ident.ID {
		return nil, ErrSenderMismatch
	}

	exists, err := s.repo.UserExists(ctx, in.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("receiver lookup: %w", err)
	}
	if !exists {
		return nil, ErrReceiverNotFound
	}

	m := &Message{
		Content:    content,
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		IsRead:     false,
	}
	if err := s.repo.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	s.invalidateUnread(ctx, in.ReceiverID)
	s.publishCreated(ctx, m.ID)

	// Read back with display names. The insert already succeeded, so fall
	// back to the bare row if the join read fails.
	full, err := s.repo.GetByID(ctx, m.ID)
	if err != nil {
		s.log.Warn("message read-back failed", zap.Int64("message_id", m.ID), zap.Error(err))
		return m, nil
	}
	return full, nil
}

// History returns the ordered history between the caller and peerID.
func (s *Service) History(ctx context.Context, ident auth.Identity, peerID int64) ([]Message, error) {
	return s.repo.ListBetween(ctx, ident.ID, peerID)
}

// MarkRead flips a single message to read. Only the message's receiver may
// do so; is_read moves false-to-true only.
func (s *Service) MarkRead(ctx context.Context, ident auth.Identity, messageID int64) (*Message, error) {
	m, err := s.repo.GetRawByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	if m.ReceiverID != ident.ID {
		return nil, ErrNotReceiver
	}
	if !m.IsRead {
		if err := s.repo.MarkRead(ctx, messageID); err != nil {
			return nil, err
		}
		s.invalidateUnread(ctx, ident.ID)
	}
	return s.repo.GetByID(ctx, messageID)
}

// MarkAllRead flips every unread message from senderID to the caller.
func (s *Service) MarkAllRead(ctx context.Context, ident auth.Identity, senderID int64) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, senderID, ident.ID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidateUnread(ctx, ident.ID)
	}
	return n, nil
}

// UnreadCount returns the caller's unread received-message count, serving
// from the cache when possible.
func (s *Service) UnreadCount(ctx context.Context, ident auth.Identity) (int64, error) {
	if s.cache != nil {
		if n, ok, err := s.cache.Get(ctx, ident.ID); err == nil && ok {
			return n, nil
		} else if err != nil {
			s.log.Warn("unread cache read failed", zap.Int64("user_id", ident.ID), zap.Error(err))
		}
	}

	n, err := s.repo.UnreadCount(ctx, ident.ID)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, ident.ID, n); err != nil {
			s.log.Warn("unread cache write failed", zap.Int64("user_id", ident.ID), zap.Error(err))
		}
	}
	return n, nil
}

// Threads returns the caller's conversation overview.
func (s *Service) Threads(ctx context.Context, ident auth.Identity) ([]Thread, error) {
	return s.repo.Threads(ctx, ident.ID)
}

func (s *Service) invalidateUnread(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.log.Warn("unread cache invalidate failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (s *Service) publishCreated(ctx context.Context, messageID int64) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishMessageCreated(ctx, messageID); err != nil {
		s.log.Warn("message event publish failed", zap.Int64("message_id", messageID), zap.Error(err))
	}
}
