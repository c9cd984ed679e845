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

// What started a reconciliation run.
const (
	TriggerList  = "list"
	TriggerSweep = "sweep"
	TriggerCLI   = "cli"
)

// ReconcileService repairs conversations that drifted from the message
// history: friends who exchanged messages without a conversation row,
// conversations whose last message pointer is missing or behind, and unread
// counters that no longer match the unread messages. Pointers only move
// forward and counters are recomputed from the messages, so running it
// repeatedly is harmless.
type ReconcileService struct {
	friends repository.FriendRepository
	convs   *ConversationService
	pairs   pairRepair
}

func NewReconcileService(
	friends repository.FriendRepository,
	messages *MessageService,
	convs *ConversationService,
) *ReconcileService {
	return &ReconcileService{
		friends: friends,
		convs:   convs,
		pairs:   pairRepair{messages: messages, convs: convs},
	}
}

type PairError struct {
	PeerID uuid.UUID `json:"peerId"`
	Err    string    `json:"error"`
}

type ReconcileReport struct {
	UserID     uuid.UUID   `json:"userId"`
	Examined   int         `json:"examined"`
	Created    int         `json:"created"`
	Backfilled int         `json:"backfilled"`
	Repaired   int         `json:"repaired"`
	Skipped    int         `json:"skipped"`
	Failed     []PairError `json:"failed,omitempty"`
}

// ReconcileUser repairs every conversation userID takes part in. A failing
// pair is recorded in the report and the run moves on; only a failure to list
// the user's friends aborts it.
func (s *ReconcileService) ReconcileUser(ctx context.Context, userID uuid.UUID, trigger string) (*ReconcileReport, error) {
	report := &ReconcileReport{UserID: userID}
	defer func() {
		metrics.RecordReconcile(trigger, report.Created, report.Backfilled, report.Repaired, report.Skipped, len(report.Failed))
	}()

	friendIDs, err := s.friends.ListFriendIDs(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("listing friends: %w", err)
	}

	seen := make(map[uuid.UUID]bool, len(friendIDs))
	for _, peerID := range friendIDs {
		seen[peerID] = true
		out, err := s.pairs.run(ctx, userID, peerID)
		s.tally(ctx, report, peerID, out, err)
	}

	// Conversations with former friends are not listed above.
	missing, err := s.convs.ListMissingLastMessage(ctx, userID)
	if err != nil {
		s.fail(ctx, report, uuid.Nil, fmt.Errorf("listing conversations without last message: %w", err))
		return report, nil
	}
	for i := range missing {
		conv := &missing[i]
		peerID := peerOf(conv, userID)
		if seen[peerID] {
			continue
		}
		out, err := s.pairs.sync(ctx, conv, userID, peerID)
		s.tally(ctx, report, peerID, out, err)
	}

	return report, nil
}

func (s *ReconcileService) tally(ctx context.Context, report *ReconcileReport, peerID uuid.UUID, out pairOutcome, err error) {
	report.Examined++
	if err != nil {
		s.fail(ctx, report, peerID, err)
		return
	}
	switch out {
	case pairCreated:
		report.Created++
	case pairBackfilled:
		report.Backfilled++
	case pairRepaired:
		report.Repaired++
	default:
		report.Skipped++
	}
}

func (s *ReconcileService) fail(ctx context.Context, report *ReconcileReport, peerID uuid.UUID, err error) {
	report.Failed = append(report.Failed, PairError{PeerID: peerID, Err: err.Error()})
	logging.Ctx(ctx).Warn().Err(err).
		Str("user_id", report.UserID.String()).
		Str("peer_id", peerID.String()).
		Msg("reconcile: pair skipped")
}

type pairOutcome int

const (
	pairSkipped pairOutcome = iota
	pairCreated
	pairBackfilled
	pairRepaired
)

// pairRepair brings one pair's conversation in line with its messages. The
// send path uses it directly when a conversation update fails.
type pairRepair struct {
	messages *MessageService
	convs    *ConversationService
}

// run creates the conversation of a pair that has history but no
// conversation row, then syncs it.
func (p pairRepair) run(ctx context.Context, userID, peerID uuid.UUID) (pairOutcome, error) {
	conv, err := p.convs.Find(ctx, userID, peerID)
	if err != nil {
		return pairSkipped, err
	}
	if conv != nil {
		return p.sync(ctx, conv, userID, peerID)
	}

	last, err := p.messages.LastBetween(ctx, userID, peerID)
	if err != nil {
		return pairSkipped, fmt.Errorf("loading last message: %w", err)
	}
	if last == nil {
		return pairSkipped, nil
	}

	conv, err = p.convs.FindOrCreate(ctx, []uuid.UUID{userID, peerID})
	if err != nil {
		return pairSkipped, err
	}
	if _, err := p.syncTo(ctx, conv, userID, peerID, last); err != nil {
		return pairSkipped, err
	}
	return pairCreated, nil
}

func (p pairRepair) sync(ctx context.Context, conv *domain.Conversation, userID, peerID uuid.UUID) (pairOutcome, error) {
	last, err := p.messages.LastBetween(ctx, userID, peerID)
	if err != nil {
		return pairSkipped, fmt.Errorf("loading last message: %w", err)
	}
	if last == nil {
		return pairSkipped, nil
	}
	return p.syncTo(ctx, conv, userID, peerID, last)
}

// syncTo points conv at last when the pointer is empty or older, and
// recomputes both unread counters.
func (p pairRepair) syncTo(ctx context.Context, conv *domain.Conversation, userID, peerID uuid.UUID, last *domain.Message) (pairOutcome, error) {
	out := pairSkipped
	switch {
	case conv.LastMessageID == nil:
		set, err := p.convs.SetLastMessageIfEmpty(ctx, conv, last)
		if err != nil {
			return out, err
		}
		if set {
			out = pairBackfilled
		}
	case *conv.LastMessageID != last.ID && !last.CreatedAt.Before(conv.LastMessageAt):
		if err := p.convs.UpdateLastMessage(ctx, conv, last); err != nil {
			return out, err
		}
		out = pairRepaired
	}

	for _, pair := range [][2]uuid.UUID{{userID, peerID}, {peerID, userID}} {
		changed, err := p.convs.RecountUnread(ctx, conv, pair[0], pair[1])
		if err != nil {
			return out, err
		}
		if changed && out == pairSkipped {
			out = pairRepaired
		}
	}
	return out, nil
}
