package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/vedran77/pulsedm/internal/domain"
	"github.com/vedran77/pulsedm/internal/logging"
	"github.com/vedran77/pulsedm/internal/metrics"
	"github.com/vedran77/pulsedm/internal/repository"
)

// Entry paths of a send, used for metrics.
const (
	PathHTTP     = "http"
	PathRealtime = "realtime"
)

// DMService ties the message and conversation stores together. The HTTP
// handlers and the realtime gateway both call it, so every send, read and
// delete keeps the conversation pointer and counters in step no matter where
// it came from.
type DMService struct {
	messages   *MessageService
	convs      *ConversationService
	users      repository.UserRepository
	pairs      pairRepair
	reconciler *ReconcileService
	notifier   Notifier

	reconcileOnList bool
}

func NewDMService(
	messages *MessageService,
	convs *ConversationService,
	users repository.UserRepository,
) *DMService {
	return &DMService{
		messages: messages,
		convs:    convs,
		users:    users,
		pairs:    pairRepair{messages: messages, convs: convs},
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *DMService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetReconciler makes the first page of every conversation list repair
// missing conversations first.
func (s *DMService) SetReconciler(r *ReconcileService, onList bool) {
	s.reconciler = r
	s.reconcileOnList = onList
}

// SendDirect stores a message and updates the pair's conversation. Once the
// message row exists the send counts as done, and the conversation update runs
// to completion even if the caller goes away. A failed update is repaired from
// the message history right away; the reconcile sweep retries whatever that
// repair could not fix.
func (s *DMService) SendDirect(ctx context.Context, senderID uuid.UUID, in SendMessageInput, path string) (*domain.Message, error) {
	msg, err := s.messages.Send(ctx, senderID, in)
	if err != nil {
		return nil, err
	}
	metrics.MessagesSent.WithLabelValues(path).Inc()

	ctx = context.WithoutCancel(ctx)
	if err := s.applyToConversation(ctx, msg); err != nil {
		log := logging.Ctx(ctx)
		log.Error().Err(err).
			Str("message_id", msg.ID.String()).
			Str("conversation_id", msg.ConversationKey()).
			Msg("conversation update failed after send")

		if _, err := s.pairs.run(ctx, msg.SenderID, msg.ReceiverID); err != nil {
			log.Error().Err(err).
				Str("conversation_id", msg.ConversationKey()).
				Msg("conversation repair failed after send")
		}
	}

	if s.notifier != nil {
		s.notifier.NotifyNewMessage(msg)
	}
	return msg, nil
}

func (s *DMService) applyToConversation(ctx context.Context, msg *domain.Message) error {
	conv, err := s.convs.FindOrCreate(ctx, []uuid.UUID{msg.SenderID, msg.ReceiverID})
	if err != nil {
		return err
	}
	if err := s.convs.UpdateLastMessage(ctx, conv, msg); err != nil {
		return err
	}
	return s.convs.IncrementUnread(ctx, conv, msg.ReceiverID)
}

// MarkRead marks everything peerID sent to readerID as read, clears the
// reader's counter and tells the peer.
func (s *DMService) MarkRead(ctx context.Context, readerID, peerID uuid.UUID) (*ReadReceipt, error) {
	if err := s.requireUser(ctx, peerID); err != nil {
		return nil, err
	}
	receipt, err := s.markRead(ctx, readerID, peerID)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.NotifyMessagesRead(*receipt)
	}
	return receipt, nil
}

func (s *DMService) markRead(ctx context.Context, readerID, peerID uuid.UUID) (*ReadReceipt, error) {
	n, err := s.messages.MarkRead(ctx, peerID, readerID)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	conv, err := s.convs.Find(ctx, readerID, peerID)
	if err != nil {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}
	if conv != nil {
		if err := s.convs.ResetUnread(ctx, conv, readerID); err != nil {
			return nil, err
		}
	}

	return &ReadReceipt{
		ConversationID: domain.PairKey(readerID, peerID),
		ReaderID:       readerID,
		PeerID:         peerID,
		Count:          n,
		ReadAt:         now(),
	}, nil
}

// History returns a page of messages with peerID and marks what peerID sent
// as read. The peer is only told when something actually changed.
func (s *DMService) History(ctx context.Context, userID, peerID uuid.UUID, q domain.PageQuery) (*domain.MessagePage, error) {
	if userID == peerID {
		return nil, domain.ErrCannotMessageSelf
	}
	if err := s.requireUser(ctx, peerID); err != nil {
		return nil, err
	}
	if err := s.messages.requireFriends(ctx, userID, peerID); err != nil {
		return nil, err
	}

	receipt, err := s.markRead(ctx, userID, peerID)
	if err != nil {
		return nil, err
	}
	if receipt.Count > 0 && s.notifier != nil {
		s.notifier.NotifyMessagesRead(*receipt)
	}

	return s.messages.Page(ctx, userID, peerID, q)
}

// ListConversations renders the caller's conversations with the peer's
// profile, the last message and the caller's own unread counter.
func (s *DMService) ListConversations(ctx context.Context, userID uuid.UUID, page, limit int) (*domain.ConversationPage, error) {
	q := normalizePage(domain.PageQuery{Page: page, Limit: limit})

	if s.reconcileOnList && s.reconciler != nil && q.Page == 1 {
		if _, err := s.reconciler.ReconcileUser(ctx, userID, TriggerList); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("reconcile before list failed")
		}
	}

	convs, hasMore, err := s.convs.ListForUser(ctx, userID, q.Page, q.Limit)
	if err != nil {
		return nil, err
	}

	peerIDs := make([]uuid.UUID, 0, len(convs))
	lastIDs := make([]uuid.UUID, 0, len(convs))
	for i := range convs {
		peerIDs = append(peerIDs, peerOf(&convs[i], userID))
		if convs[i].LastMessageID != nil {
			lastIDs = append(lastIDs, *convs[i].LastMessageID)
		}
	}

	profiles, err := s.users.GetProfiles(ctx, peerIDs)
	if err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}
	lasts, err := s.messages.GetMany(ctx, lastIDs)
	if err != nil {
		return nil, fmt.Errorf("loading last messages: %w", err)
	}

	out := make([]domain.ConversationSummary, 0, len(convs))
	for i := range convs {
		c := &convs[i]
		peer := peerOf(c, userID)
		profile, ok := profiles[peer]
		if !ok {
			profile = domain.Profile{ID: peer}
		}

		summary := domain.ConversationSummary{
			ID:             c.ID,
			ConversationID: c.Key(),
			Type:           c.ConversationType,
			Peer:           profile,
			LastMessageAt:  c.LastMessageAt,
			UnreadCount:    c.Unread(userID),
			CreatedAt:      c.CreatedAt,
		}
		if c.LastMessageID != nil {
			if m, ok := lasts[*c.LastMessageID]; ok {
				red := m.Redacted()
				summary.LastMessage = &red
			}
		}
		out = append(out, summary)
	}

	return &domain.ConversationPage{
		Conversations: out,
		Page:          q.Page,
		Limit:         q.Limit,
		HasMore:       hasMore,
	}, nil
}

func (s *DMService) Delete(ctx context.Context, userID, messageID uuid.UUID) (*domain.Message, error) {
	msg, err := s.messages.SoftDelete(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.NotifyMessageDeleted(msg)
	}
	return msg, nil
}

func (s *DMService) Edit(ctx context.Context, userID, messageID uuid.UUID, in EditMessageInput) (*domain.Message, error) {
	msg, err := s.messages.Edit(ctx, messageID, userID, in)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.NotifyMessageEdited(msg)
	}
	return msg, nil
}

func (s *DMService) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.messages.UnreadCountFor(ctx, userID)
}

func (s *DMService) requireUser(ctx context.Context, id uuid.UUID) error {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("loading user: %w", err)
	}
	if u == nil {
		return domain.ErrUserNotFound
	}
	return nil
}

func peerOf(c *domain.Conversation, userID uuid.UUID) uuid.UUID {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return userID
}
