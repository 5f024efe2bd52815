package message

import (
	"context"
	"errors"
	"sort"

	"gorm.io/gorm"
)

// Repo is the message store: single-row appends and participant-pair reads
// over the relational messages table.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

const selectWithNames = "messages.*, s.username AS sender_name, r.username AS receiver_name"

func (r *Repo) withNames(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&Message{}).
		Select(selectWithNames).
		Joins("LEFT JOIN users s ON s.id = messages.sender_id").
		Joins("LEFT JOIN users r ON r.id = messages.receiver_id")
}

// Insert appends one message. The store assigns ID and CreatedAt.
func (r *Repo) Insert(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// GetByID reads one message back with denormalized display names.
func (r *Repo) GetByID(ctx context.Context, id int64) (*Message, error) {
	var m Message
	if err := r.withNames(ctx).Where("messages.id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListBetween returns the full history between two participants ordered by
// created_at ascending (store order breaks ties).
func (r *Repo) ListBetween(ctx context.Context, a, b int64) ([]Message, error) {
	var msgs []Message
	err := r.withNames(ctx).
		Where("(messages.sender_id = ? AND messages.receiver_id = ?) OR (messages.sender_id = ? AND messages.receiver_id = ?)",
			a, b, b, a).
		Order("messages.created_at ASC, messages.id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// UserExists reports whether the given user id resolves to a row in the
// outer application's users table.
func (r *Repo) UserExists(ctx context.Context, id int64) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

// GetRawByID reads one message without joins. Used by receipt checks.
func (r *Repo) GetRawByID(ctx context.Context, id int64) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkRead flips is_read for a single message. The false-to-true-only rule
// is enforced by only ever writing true.
func (r *Repo) MarkRead(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", id).
		Update("is_read", true).Error
}

// MarkAllRead flips is_read for every message from senderID to receiverID and
// returns the number of rows touched.
func (r *Repo) MarkAllRead(ctx context.Context, senderID, receiverID int64) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", senderID, receiverID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

// UnreadCount counts unread messages addressed to receiverID.
func (r *Repo) UnreadCount(ctx context.Context, receiverID int64) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("receiver_id = ? AND is_read = ?", receiverID, false).
		Count(&cnt).Error
	return cnt, err
}

// Threads returns one summary per distinct counterpart of userID, most
// recently active first.
func (r *Repo) Threads(ctx context.Context, userID int64) ([]Thread, error) {
	var counterparts []int64
	rows, err := r.db.WithContext(ctx).Raw(
		`SELECT DISTINCT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS user_id
		 FROM messages WHERE sender_id = ? OR receiver_id = ?`,
		userID, userID, userID).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if id != 0 {
			counterparts = append(counterparts, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	threads := make([]Thread, 0, len(counterparts))
	for _, id := range counterparts {
		var u User
		if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}

		var last Message
		lastErr := r.withNames(ctx).
			Where("(messages.sender_id = ? AND messages.receiver_id = ?) OR (messages.sender_id = ? AND messages.receiver_id = ?)",
				userID, id, id, userID).
			Order("messages.created_at DESC, messages.id DESC").
			First(&last).Error

		th := Thread{User: u}
		if lastErr == nil {
			th.LastMessage = &last
		} else if !errors.Is(lastErr, gorm.ErrRecordNotFound) {
			return nil, lastErr
		}

		var unread int64
		if err := r.db.WithContext(ctx).Model(&Message{}).
			Where("sender_id = ? AND receiver_id = ? AND is_read = ?", id, userID, false).
			Count(&unread).Error; err != nil {
			return nil, err
		}
		th.UnreadCount = unread

		threads = append(threads, th)
	}

	sort.SliceStable(threads, func(i, j int) bool {
		li, lj := threads[i].LastMessage, threads[j].LastMessage
		switch {
		case li == nil:
			return false
		case lj == nil:
			return true
		default:
			return li.CreatedAt.After(lj.CreatedAt)
		}
	})

	return threads, nil
}
