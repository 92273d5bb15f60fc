package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"metachat/chat-relay/internal/models"
)

var ErrDuplicateUsername = errors.New("username already taken")

// MemoryStore implements ChatRepository and UserRepository in process memory.
// It backs local runs without Postgres and the service tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[int64]*models.User
	chats    map[int64]*models.Chat
	messages map[int64][]*models.Message
	nextID   int64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[int64]*models.User),
		chats:    make(map[int64]*models.Chat),
		messages: make(map[int64][]*models.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ ChatRepository = (*MemoryStore)(nil)
	_ UserRepository = (*MemoryStore)(nil)
)

func (s *MemoryStore) InitializeTables() error { return nil }

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == user.Username {
			return ErrDuplicateUsername
		}
	}
	user.ID = s.id()
	user.CreatedAt = s.now()
	stored := *user
	s.users[user.ID] = &stored
	return nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		users = append(users, &cp)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *MemoryStore) CountExisting(_ context.Context, ids ...int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := s.users[id]; ok {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CreateChat(_ context.Context, chat *models.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.chats {
		if c.UserID1 == chat.UserID1 && c.UserID2 == chat.UserID2 {
			*chat = *c
			return nil
		}
	}
	chat.ID = s.id()
	chat.CreatedAt = s.now()
	chat.UpdatedAt = chat.CreatedAt
	stored := *chat
	s.chats[chat.ID] = &stored
	return nil
}

func (s *MemoryStore) GetChatByID(_ context.Context, id int64) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[id]
	if !ok {
		return nil, ErrChatNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetChatByUsers(_ context.Context, userID1, userID2 int64) (*models.Chat, error) {
	userID1, userID2 = models.OrderedPair(userID1, userID2)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.chats {
		if c.UserID1 == userID1 && c.UserID2 == userID2 {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrChatNotFound
}

func (s *MemoryStore) GetUserChats(_ context.Context, userID int64) ([]*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.userChatsLocked(userID), nil
}

func (s *MemoryStore) userChatsLocked(userID int64) []*models.Chat {
	var chats []*models.Chat
	for _, c := range s.chats {
		if c.HasParticipant(userID) {
			cp := *c
			chats = append(chats, &cp)
		}
	}
	sort.Slice(chats, func(i, j int) bool {
		if chats[i].UpdatedAt.Equal(chats[j].UpdatedAt) {
			return chats[i].ID > chats[j].ID
		}
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats
}

func (s *MemoryStore) GetUserChatSummaries(_ context.Context, userID int64) ([]*models.ChatSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chats := s.userChatsLocked(userID)
	summaries := make([]*models.ChatSummary, 0, len(chats))
	for _, c := range chats {
		summary := &models.ChatSummary{
			ID:        c.ID,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		}
		if other, ok := s.users[c.OtherParticipant(userID)]; ok {
			summary.OtherUser = profileOf(other)
		}
		msgs := s.messages[c.ID]
		if len(msgs) > 0 {
			latest := *msgs[len(msgs)-1]
			summary.LatestMessage = &latest
		}
		for _, m := range msgs {
			if m.SenderID != userID && m.ReadAt == nil {
				summary.UnreadCount++
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[msg.ChatID]
	if !ok {
		return ErrChatNotFound
	}
	sender, ok := s.users[msg.SenderID]
	if !ok {
		return ErrUserNotFound
	}

	msg.ID = s.id()
	msg.CreatedAt = s.now()
	profile := profileOf(sender)
	msg.Sender = &profile

	stored := *msg
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], &stored)
	chat.UpdatedAt = msg.CreatedAt
	return nil
}

func (s *MemoryStore) GetChatMessages(_ context.Context, chatID int64, q MessageQuery) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newestFirst []*models.Message
	all := s.messages[chatID]
	for i := len(all) - 1; i >= 0; i-- {
		if q.BeforeID > 0 && all[i].ID >= q.BeforeID {
			continue
		}
		cp := *all[i]
		newestFirst = append(newestFirst, &cp)
	}

	if q.Skip >= len(newestFirst) {
		return nil, nil
	}
	newestFirst = newestFirst[q.Skip:]
	if q.Limit > 0 && len(newestFirst) > q.Limit {
		newestFirst = newestFirst[:q.Limit]
	}

	for i, j := 0, len(newestFirst)-1; i < j; i, j = i+1, j-1 {
		newestFirst[i], newestFirst[j] = newestFirst[j], newestFirst[i]
	}
	return newestFirst, nil
}

func (s *MemoryStore) CountChatMessages(_ context.Context, chatID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.messages[chatID]), nil
}

func (s *MemoryStore) MarkMessagesAsRead(_ context.Context, chatID, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for _, m := range s.messages[chatID] {
		if m.SenderID != userID && m.ReadAt == nil {
			t := now
			m.ReadAt = &t
			count++
		}
	}
	return count, nil
}

func profileOf(u *models.User) models.UserProfile {
	return models.UserProfile{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName}
}
