package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-live/live-service/internal/battle"
	"github.com/weiawesome/wes-io-live/live-service/internal/domain"
	"github.com/weiawesome/wes-io-live/live-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/live-service/internal/pubsub"
	"github.com/weiawesome/wes-io-live/live-service/internal/room"
	pkglog "github.com/weiawesome/wes-io-live/live-service/pkg/log"
)

func (s *liveService) HandleSendGift(ctx context.Context, connID string, msg *domain.SendGiftMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms.Get(msg.StreamerID)
	if !ok {
		return s.drop(ctx, connID, metrics.ReasonRoomNotFound, domain.ErrCodeNotFound,
			fmt.Errorf("gift %s: %w", msg.StreamerID, room.ErrRoomNotFound))
	}

	state, err := s.battles.ApplyGift(msg.StreamerID, msg.Coins)
	if errors.Is(err, battle.ErrScoreOverflow) {
		return s.drop(ctx, connID, metrics.ReasonConflict, domain.ErrCodeBadRequest,
			fmt.Errorf("gift %s: %w", msg.StreamerID, err))
	}

	s.fanout(connID, r.Members(), &domain.GiftReceivedMessage{
		Type:         domain.EvtGiftReceived,
		StreamerID:   msg.StreamerID,
		GiftName:     msg.GiftName,
		GiftIcon:     msg.GiftIcon,
		SenderName:   msg.SenderName,
		SenderAvatar: msg.SenderAvatar,
		Coins:        msg.Coins,
		Timestamp:    s.now().UnixMilli(),
	})
	s.metrics.ObserveGift(msg.Coins)

	switch {
	case err == nil:
	case errors.Is(err, battle.ErrBattleNotFound), errors.Is(err, battle.ErrInvalidPoints):
		return nil
	default:
		l := pkglog.Ctx(ctx)
		l.Error().Err(err).Str(pkglog.FieldStreamerID, msg.StreamerID).Msg("gift not scored")
		return nil
	}

	s.fanout(connID, s.battleMembers(state.StreamerA, state.StreamerB), &domain.PKScoreUpdateMessage{
		Type:  domain.EvtPKScoreUpdate,
		Score: state.Score(),
	})
	s.emit(pubsub.EventBattleScore, msg.StreamerID, battlePayload(state, ""))
	return nil
}

func (s *liveService) HandlePKInvite(ctx context.Context, connID string, msg *domain.PKInviteMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.TargetStreamerID == msg.RequestingStreamerID {
		return s.drop(ctx, connID, metrics.ReasonConflict, domain.ErrCodeConflict, battle.ErrSelfBattle)
	}
	target, ok := s.rooms.Get(msg.TargetStreamerID)
	if !ok {
		return s.drop(ctx, connID, metrics.ReasonRoomNotFound, domain.ErrCodeNotFound,
			fmt.Errorf("pk invite %s: %w", msg.TargetStreamerID, room.ErrRoomNotFound))
	}

	s.send(connID, target.BroadcasterConn, &domain.PKInviteReceivedMessage{
		Type:         domain.EvtPKInviteReceived,
		StreamerID:   msg.RequestingStreamerID,
		StreamerName: msg.RequestingStreamerName,
	})
	return nil
}

func (s *liveService) HandlePKAccept(ctx context.Context, connID string, msg *domain.PKAcceptMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requester, okA := s.rooms.Get(msg.TargetStreamerID)
	accepter, okB := s.rooms.Get(msg.AcceptingStreamerID)
	if !okA || !okB {
		return s.drop(ctx, connID, metrics.ReasonRoomNotFound, domain.ErrCodeNotFound,
			fmt.Errorf("pk accept %s/%s: %w", msg.TargetStreamerID, msg.AcceptingStreamerID, room.ErrRoomNotFound))
	}

	b, err := s.battles.Accept(requester.BroadcastID, accepter.BroadcastID, s.now())
	if err != nil {
		return s.drop(ctx, connID, metrics.ReasonConflict, domain.ErrCodeConflict,
			fmt.Errorf("pk accept %s/%s: %w", msg.TargetStreamerID, msg.AcceptingStreamerID, err))
	}

	s.send(connID, requester.BroadcasterConn, domain.NewPKPeerMessage(domain.EvtPKStarted, accepter.BroadcastID))
	s.send(connID, accepter.BroadcasterConn, domain.NewPKPeerMessage(domain.EvtPKStarted, requester.BroadcastID))
	s.fanout(connID, requester.Members(), domain.NewPKPeerMessage(domain.EvtPKModeActive, accepter.BroadcastID))
	s.fanout(connID, accepter.Members(), domain.NewPKPeerMessage(domain.EvtPKModeActive, requester.BroadcastID))

	if s.maxBattle > 0 {
		battleID := b.ID
		sideA := b.SideA
		s.timers[battleID] = time.AfterFunc(s.maxBattle, func() {
			s.expireBattle(battleID, sideA)
		})
	}

	s.emit(pubsub.EventBattleStarted, b.SideA, battlePayload(b.State(), ""))
	s.syncGauges()

	l := pkglog.Ctx(ctx)
	l.Info().
		Str(pkglog.FieldBattleID, b.ID).
		Str("streamer_a", b.SideA).
		Str("streamer_b", b.SideB).
		Msg("pk battle started")
	return nil
}

func (s *liveService) HandlePKReject(ctx context.Context, connID string, msg *domain.PKRejectMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.rooms.Get(msg.TargetStreamerID)
	if !ok {
		return s.drop(ctx, connID, metrics.ReasonRoomNotFound, domain.ErrCodeNotFound,
			fmt.Errorf("pk reject %s: %w", msg.TargetStreamerID, room.ErrRoomNotFound))
	}
	s.send(connID, target.BroadcasterConn, &domain.PKRejectedMessage{Type: domain.EvtPKRejected})
	return nil
}

func (s *liveService) HandlePKEnd(ctx context.Context, connID string, msg *domain.PKEndMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.battles.Lookup(msg.StreamerID)
	if !ok {
		return s.drop(ctx, connID, metrics.ReasonBattleNotFound, domain.ErrCodeNotFound,
			fmt.Errorf("pk end %s: %w", msg.StreamerID, battle.ErrBattleNotFound))
	}
	owned, _ := s.registry.Owned(connID)
	if owned != b.SideA && owned != b.SideB {
		return s.drop(ctx, connID, metrics.ReasonNotOwner, domain.ErrCodeForbidden,
			fmt.Errorf("pk end %s: %w", msg.StreamerID, ErrForbidden))
	}

	s.endBattle(ctx, b, domain.EndReasonExplicit)
	s.syncGauges()
	return nil
}

// expireBattle runs on the timer goroutine. The battle may have ended, or a
// new one started between the same streamers, since the timer was armed.
func (s *liveService) expireBattle(battleID, sideA string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.battles.Lookup(sideA)
	if !ok || b.ID != battleID {
		return
	}
	s.endBattle(context.Background(), b, domain.EndReasonTimeout)
	s.syncGauges()
}

// endBattle tears a battle down and sends the final score to whichever of
// the two rooms still exist. Caller holds mu.
func (s *liveService) endBattle(ctx context.Context, b *battle.Battle, reason string) {
	s.battles.Teardown(b.SideA)
	if t, ok := s.timers[b.ID]; ok {
		t.Stop()
		delete(s.timers, b.ID)
	}

	state := b.State()
	s.fanout("", s.battleMembers(b.SideA, b.SideB), &domain.PKEndedMessage{
		Type:   domain.EvtPKEnded,
		Score:  state.Score(),
		Reason: reason,
	})
	s.emit(pubsub.EventBattleEnded, b.SideA, battlePayload(state, reason))
	s.metrics.ObserveBattleDuration(s.now().Sub(b.StartedAt).Seconds())

	l := pkglog.Ctx(ctx)
	l.Info().
		Str(pkglog.FieldBattleID, b.ID).
		Str(pkglog.FieldReason, reason).
		Int64("score_a", b.ScoreA).
		Int64("score_b", b.ScoreB).
		Msg("pk battle ended")
}

// battleMembers lists the connections of both rooms that still exist.
func (s *liveService) battleMembers(a, b string) []string {
	var conns []string
	for _, id := range []string{a, b} {
		if r, ok := s.rooms.Get(id); ok {
			conns = append(conns, r.Members()...)
		}
	}
	return conns
}

func battlePayload(state domain.BattleState, reason string) pubsub.BattlePayload {
	return pubsub.BattlePayload{
		BattleID:  state.ID,
		StreamerA: state.StreamerA,
		ScoreA:    state.ScoreA,
		StreamerB: state.StreamerB,
		ScoreB:    state.ScoreB,
		Reason:    reason,
	}
}
