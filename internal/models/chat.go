package models

import (
	"time"
)

type User struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UserProfile is the public part of a user embedded in messages and chat summaries.
type UserProfile struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// Chat is a two-party conversation. UserID1 is always the smaller id.
type Chat struct {
	ID        int64     `json:"id"`
	UserID1   int64     `json:"user1Id"`
	UserID2   int64     `json:"user2Id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID is one of the two chat members.
func (c *Chat) HasParticipant(userID int64) bool {
	return c.UserID1 == userID || c.UserID2 == userID
}

// OtherParticipant returns the member that is not userID.
func (c *Chat) OtherParticipant(userID int64) int64 {
	if c.UserID1 == userID {
		return c.UserID2
	}
	return c.UserID1
}

// OrderedPair returns a and b with the smaller id first, which is how chats are stored.
func OrderedPair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

type Message struct {
	ID        int64        `json:"id"`
	ChatID    int64        `json:"chatId"`
	SenderID  int64        `json:"senderId"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"createdAt"`
	ReadAt    *time.Time   `json:"readAt,omitempty"`
	Sender    *UserProfile `json:"sender,omitempty"`
}

type ChatSummary struct {
	ID            int64       `json:"id"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	OtherUser     UserProfile `json:"otherUser"`
	LatestMessage *Message    `json:"latestMessage"`
	UnreadCount   int         `json:"unreadCount"`
}
