package ws

import (
	"github.com/vedran77/pulsedm/internal/domain"
	"github.com/vedran77/pulsedm/internal/presence"
	"github.com/vedran77/pulsedm/internal/service"
)

// RegistryNotifier implements service.Notifier by pushing events to every
// connection the presence registry holds for the affected users.
type RegistryNotifier struct {
	registry *presence.Registry
}

func NewRegistryNotifier(registry *presence.Registry) *RegistryNotifier {
	return &RegistryNotifier{registry: registry}
}

// NotifyNewMessage delivers to the receiver and acknowledges to the sender.
// The two deliveries are independent.
func (n *RegistryNotifier) NotifyNewMessage(msg *domain.Message) {
	payload := newMessagePayload(msg)
	n.registry.SendToUser(msg.ReceiverID, EventNewMessage, payload)
	n.registry.SendToUser(msg.SenderID, EventMessageSent, payload)
}

func (n *RegistryNotifier) NotifyMessagesRead(receipt service.ReadReceipt) {
	n.registry.SendToUser(receipt.PeerID, EventMessagesRead, receipt)
}

func (n *RegistryNotifier) NotifyMessageEdited(msg *domain.Message) {
	payload := newMessagePayload(msg)
	n.registry.SendToUser(msg.ReceiverID, EventMessageEdited, payload)
	n.registry.SendToUser(msg.SenderID, EventMessageEdited, payload)
}

func (n *RegistryNotifier) NotifyMessageDeleted(msg *domain.Message) {
	payload := MessageDeletedPayload{MessageID: msg.ID, ConversationID: msg.ConversationKey()}
	n.registry.SendToUser(msg.ReceiverID, EventMessageDeleted, payload)
	n.registry.SendToUser(msg.SenderID, EventMessageDeleted, payload)
}
