package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsedm/internal/domain"
	"github.com/vedran77/pulsedm/internal/repository"
	"github.com/vedran77/pulsedm/pkg/validator"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// MessageService is the durable store of direct messages.
type MessageService struct {
	messages repository.MessageRepository
	users    repository.UserRepository
	friends  repository.FriendRepository
	now      func() time.Time
}

func NewMessageService(
	messages repository.MessageRepository,
	users repository.UserRepository,
	friends repository.FriendRepository,
) *MessageService {
	return &MessageService{
		messages: messages,
		users:    users,
		friends:  friends,
		now:      now,
	}
}

// now returns the current time in the precision every store keeps, so an
// in-memory value always equals what is read back.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

type SendMessageInput struct {
	ReceiverID  uuid.UUID          `json:"receiverId" validate:"required"`
	Content     string             `json:"content" validate:"required,min=1,max=1000"`
	MessageType domain.MessageType `json:"messageType" validate:"omitempty,oneof=text image audio file"`
	FileURL     *string            `json:"fileUrl,omitempty" validate:"omitempty,url"`
	FileName    *string            `json:"fileName,omitempty" validate:"omitempty,max=255"`
	ReplyToID   *uuid.UUID         `json:"replyToId,omitempty"`
}

func (in *SendMessageInput) normalize() error {
	in.Content = strings.TrimSpace(in.Content)
	if in.MessageType == "" {
		in.MessageType = domain.MessageTypeText
	}

	errs := validator.Struct(in)
	if in.MessageType != domain.MessageTypeText && (in.FileURL == nil || *in.FileURL == "") {
		errs.Add("fileUrl", "fileUrl is required for "+string(in.MessageType)+" messages")
	}
	if errs.HasErrors() {
		return fmt.Errorf("%w: %w", domain.ErrValidation, errs)
	}
	return nil
}

// Send stores a message from senderID. The two users must be friends. A
// replyTo that does not point at a message of the same pair is dropped.
func (s *MessageService) Send(ctx context.Context, senderID uuid.UUID, in SendMessageInput) (*domain.Message, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	if senderID == in.ReceiverID {
		return nil, domain.ErrCannotMessageSelf
	}

	receiver, err := s.users.GetByID(ctx, in.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("loading receiver: %w", err)
	}
	if receiver == nil || !receiver.IsActive {
		return nil, domain.ErrUserNotFound
	}

	if err := s.requireFriends(ctx, senderID, in.ReceiverID); err != nil {
		return nil, err
	}

	replyTo, err := s.resolveReply(ctx, senderID, in.ReceiverID, in.ReplyToID)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:          uuid.New(),
		SenderID:    senderID,
		ReceiverID:  in.ReceiverID,
		Content:     in.Content,
		MessageType: in.MessageType,
		FileURL:     in.FileURL,
		FileName:    in.FileName,
		ReplyToID:   replyTo,
		CreatedAt:   s.now(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	full, err := s.messages.GetByID(context.WithoutCancel(ctx), msg.ID)
	if err != nil {
		return nil, err
	}
	if full == nil {
		return msg, nil
	}
	return full, nil
}

func (s *MessageService) resolveReply(ctx context.Context, a, b uuid.UUID, id *uuid.UUID) (*uuid.UUID, error) {
	if id == nil {
		return nil, nil
	}
	target, err := s.messages.GetByID(ctx, *id)
	if err != nil {
		return nil, fmt.Errorf("loading reply target: %w", err)
	}
	if target == nil || target.ConversationKey() != domain.PairKey(a, b) {
		return nil, nil
	}
	return id, nil
}

// Page returns one page of the history between userID and peerID, oldest
// first. Deleted messages stay in place, redacted.
func (s *MessageService) Page(ctx context.Context, userID, peerID uuid.UUID, q domain.PageQuery) (*domain.MessagePage, error) {
	q = normalizePage(q)

	hq := repository.HistoryQuery{Offset: q.Offset(), Limit: q.Limit + 1}
	if q.Before != nil {
		cursor, err := s.messages.GetByID(ctx, *q.Before)
		if err != nil {
			return nil, fmt.Errorf("loading cursor: %w", err)
		}
		if cursor == nil || cursor.ConversationKey() != domain.PairKey(userID, peerID) {
			return nil, domain.ErrMessageNotFound
		}
		hq.Cursor = cursor
	}

	msgs, err := s.messages.ListBetween(ctx, userID, peerID, hq)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	hasMore := len(msgs) > q.Limit
	if hasMore {
		msgs = msgs[:q.Limit]
	}

	out := make([]domain.Message, len(msgs))
	for i := range msgs {
		out[len(msgs)-1-i] = msgs[i].Redacted()
	}

	page := &domain.MessagePage{
		Messages: out,
		Page:     q.Page,
		Limit:    q.Limit,
		HasMore:  hasMore,
	}
	if hasMore && len(out) > 0 {
		oldest := out[0].ID
		page.NextBefore = &oldest
	}
	return page, nil
}

// MarkRead flags every unread message from senderID to receiverID. Calling
// it again is a no-op.
func (s *MessageService) MarkRead(ctx context.Context, senderID, receiverID uuid.UUID) (int64, error) {
	n, err := s.messages.MarkRead(ctx, senderID, receiverID, s.now())
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}
	return n, nil
}

// SoftDelete hides a message. Only the sender may delete it; deleting twice
// returns the already deleted message.
func (s *MessageService) SoftDelete(ctx context.Context, messageID, userID uuid.UUID) (*domain.Message, error) {
	msg, err := s.ownedMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		out := msg.Redacted()
		return &out, nil
	}

	at := s.now()
	if err := s.messages.SoftDelete(ctx, messageID, at); err != nil {
		return nil, fmt.Errorf("deleting message: %w", err)
	}
	msg.IsDeleted = true
	msg.DeletedAt = &at
	out := msg.Redacted()
	return &out, nil
}

type EditMessageInput struct {
	Content string `json:"content" validate:"required,min=1,max=1000"`
}

func (s *MessageService) Edit(ctx context.Context, messageID, userID uuid.UUID, in EditMessageInput) (*domain.Message, error) {
	in.Content = strings.TrimSpace(in.Content)
	if errs := validator.Struct(in); errs.HasErrors() {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, errs)
	}

	msg, err := s.ownedMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, domain.ErrMessageDeleted
	}

	at := s.now()
	if err := s.messages.UpdateContent(ctx, messageID, in.Content, at); err != nil {
		return nil, fmt.Errorf("editing message: %w", err)
	}
	msg.Content = in.Content
	msg.IsEdited = true
	msg.EditedAt = &at
	return msg, nil
}

func (s *MessageService) UnreadCountFor(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.messages.CountUnread(ctx, userID)
}

// LastBetween returns the newest message between a and b, or nil.
func (s *MessageService) LastBetween(ctx context.Context, a, b uuid.UUID) (*domain.Message, error) {
	return s.messages.LastBetween(ctx, a, b)
}

func (s *MessageService) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.Message, error) {
	return s.messages.GetMany(ctx, ids)
}

func (s *MessageService) requireFriends(ctx context.Context, a, b uuid.UUID) error {
	ok, err := s.friends.AreFriends(ctx, a, b)
	if err != nil {
		return fmt.Errorf("checking friendship: %w", err)
	}
	if !ok {
		return domain.ErrNotFriends
	}
	return nil
}

func (s *MessageService) ownedMessage(ctx context.Context, messageID, userID uuid.UUID) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, domain.ErrMessageNotFound
	}
	if msg.SenderID != userID {
		return nil, domain.ErrNotMessageOwner
	}
	return msg, nil
}

func normalizePage(q domain.PageQuery) domain.PageQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}
	return q
}
