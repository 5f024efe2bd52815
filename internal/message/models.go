package message

import "time"

// Message is the canonical persisted unit. The id is assigned exactly once by
// the store, never by the client; created_at is server-assigned at insert.
type Message struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	SenderID   int64     `gorm:"not null;index:idx_messages_sender_receiver,priority:1" json:"sender_id"`
	ReceiverID int64     `gorm:"not null;index:idx_messages_sender_receiver,priority:2;index:idx_messages_receiver_unread,priority:1" json:"receiver_id"`
	IsRead     bool      `gorm:"not null;default:false;index:idx_messages_receiver_unread,priority:2" json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`

	// Denormalized display names, filled from a users join on reads.
	SenderName   string `gorm:"->;-:migration" json:"sender_name,omitempty"`
	ReceiverName string `gorm:"->;-:migration" json:"receiver_name,omitempty"`
}

func (Message) TableName() string { return "messages" }

// User mirrors the columns this service reads from the outer application's
// users table. The table is owned elsewhere; never migrated or written here.
type User struct {
	ID       int64  `gorm:"primaryKey" json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (User) TableName() string { return "users" }

// Thread summarizes a conversation with one counterpart.
type Thread struct {
	User        User     `json:"user"`
	LastMessage *Message `json:"last_message"`
	UnreadCount int64    `json:"unread_count"`
}
