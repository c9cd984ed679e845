package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsedm/internal/domain"
	"github.com/vedran77/pulsedm/internal/metrics"
	"github.com/vedran77/pulsedm/internal/repository"
	"golang.org/x/sync/singleflight"
)

// ConversationService owns the pairing record of two users: the last message
// pointer and one unread counter per participant.
type ConversationService struct {
	convs repository.ConversationRepository
	// inflight coalesces concurrent find-or-create calls for one pair inside
	// this process; the unique pair index covers everything else.
	inflight singleflight.Group
	now      func() time.Time
}

func NewConversationService(convs repository.ConversationRepository) *ConversationService {
	return &ConversationService{convs: convs, now: now}
}

// FindOrCreate returns the direct conversation of exactly two participants,
// creating it on first use. Concurrent calls for the same pair yield one row.
func (s *ConversationService) FindOrCreate(ctx context.Context, participants []uuid.UUID) (*domain.Conversation, error) {
	if len(participants) != 2 {
		return nil, domain.ErrGroupConversation
	}
	a, b := participants[0], participants[1]
	if a == b {
		return nil, domain.ErrCannotMessageSelf
	}

	key := domain.PairKey(a, b)
	v, err, _ := s.inflight.Do(key, func() (any, error) {
		// Detached so one caller giving up does not fail the others.
		ctx := context.WithoutCancel(ctx)

		conv, err := s.convs.GetByPair(ctx, a, b, domain.ConversationDirect)
		if err != nil {
			return nil, fmt.Errorf("looking up conversation: %w", err)
		}
		if conv != nil {
			return conv, nil
		}

		at := s.now()
		u1, u2 := domain.SortPair(a, b)
		candidate := &domain.Conversation{
			ID:               uuid.New(),
			Participants:     []uuid.UUID{u1, u2},
			LastMessageAt:    at,
			IsActive:         true,
			ConversationType: domain.ConversationDirect,
			CreatedAt:        at,
			UpdatedAt:        at,
		}
		conv, err = s.convs.CreateIfAbsent(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}
		if conv.ID == candidate.ID {
			metrics.ConversationsCreated.Inc()
		}
		return conv, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneConversation(v.(*domain.Conversation)), nil
}

// Find returns the direct conversation of a and b, or nil.
func (s *ConversationService) Find(ctx context.Context, a, b uuid.UUID) (*domain.Conversation, error) {
	return s.convs.GetByPair(ctx, a, b, domain.ConversationDirect)
}

// ListForUser returns active conversations, most recent activity first.
func (s *ConversationService) ListForUser(ctx context.Context, userID uuid.UUID, page, limit int) ([]domain.Conversation, bool, error) {
	q := normalizePage(domain.PageQuery{Page: page, Limit: limit})
	convs, err := s.convs.ListForUser(ctx, userID, q.Offset(), q.Limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("listing conversations: %w", err)
	}
	hasMore := len(convs) > q.Limit
	if hasMore {
		convs = convs[:q.Limit]
	}
	return convs, hasMore, nil
}

func (s *ConversationService) ListMissingLastMessage(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	return s.convs.ListMissingLastMessage(ctx, userID)
}

// UpdateLastMessage points conv at msg unless it already holds a newer one.
func (s *ConversationService) UpdateLastMessage(ctx context.Context, conv *domain.Conversation, msg *domain.Message) error {
	if err := s.convs.SetLastMessage(ctx, conv.ID, msg.ID, msg.CreatedAt); err != nil {
		return fmt.Errorf("updating last message: %w", err)
	}
	return nil
}

// SetLastMessageIfEmpty fills a missing pointer and never overwrites one.
func (s *ConversationService) SetLastMessageIfEmpty(ctx context.Context, conv *domain.Conversation, msg *domain.Message) (bool, error) {
	ok, err := s.convs.SetLastMessageIfEmpty(ctx, conv.ID, msg.ID, msg.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("backfilling last message: %w", err)
	}
	return ok, nil
}

func (s *ConversationService) IncrementUnread(ctx context.Context, conv *domain.Conversation, userID uuid.UUID) error {
	if !conv.HasParticipant(userID) {
		return domain.ErrNotParticipant
	}
	if err := s.convs.IncrementUnread(ctx, conv.ID, userID); err != nil {
		return fmt.Errorf("incrementing unread: %w", err)
	}
	return nil
}

func (s *ConversationService) ResetUnread(ctx context.Context, conv *domain.Conversation, userID uuid.UUID) error {
	if !conv.HasParticipant(userID) {
		return domain.ErrNotParticipant
	}
	if err := s.convs.ResetUnread(ctx, conv.ID, userID); err != nil {
		return fmt.Errorf("resetting unread: %w", err)
	}
	return nil
}

// RecountUnread rebuilds userID's counter from the messages peerID sent that
// userID has not read yet.
func (s *ConversationService) RecountUnread(ctx context.Context, conv *domain.Conversation, userID, peerID uuid.UUID) (bool, error) {
	if !conv.HasParticipant(userID) || !conv.HasParticipant(peerID) {
		return false, domain.ErrNotParticipant
	}
	changed, err := s.convs.RecountUnread(ctx, conv.ID, userID, peerID)
	if err != nil {
		return false, fmt.Errorf("recounting unread: %w", err)
	}
	return changed, nil
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	out := *c
	out.Participants = slices.Clone(c.Participants)
	out.UnreadCount = maps.Clone(c.UnreadCount)
	return &out
}
