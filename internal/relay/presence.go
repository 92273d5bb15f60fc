package relay

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// PresenceNotifier tells a user's chat partners that the user came online.
// There is no offline counterpart.
type PresenceNotifier struct {
	hub       *Hub
	directory ChatDirectory
	logger    *logrus.Logger
}

func NewPresenceNotifier(hub *Hub, directory ChatDirectory, logger *logrus.Logger) *PresenceNotifier {
	return &PresenceNotifier{
		hub:       hub,
		directory: directory,
		logger:    logger,
	}
}

// AnnounceOnline sends one user:online event to each distinct partner of userID
// and returns the partners it addressed.
func (p *PresenceNotifier) AnnounceOnline(ctx context.Context, userID int64) ([]int64, error) {
	chats, err := p.directory.GetUserChats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats for user %d: %w", userID, err)
	}

	partners := make([]int64, 0, len(chats))
	for _, chat := range chats {
		if !chat.HasParticipant(userID) {
			continue
		}
		partners = append(partners, chat.OtherParticipant(userID))
	}
	partners = lo.Uniq(lo.Without(partners, userID))

	frame, err := encodeFrame(EventOnline, userID)
	if err != nil {
		return nil, err
	}

	for _, partnerID := range partners {
		p.hub.Publish(UserChannel(partnerID), frame)
	}

	p.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"partners": len(partners),
	}).Debug("Announced user online")

	return partners, nil
}
