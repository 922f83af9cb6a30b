package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-live/live-service/internal/battle"
	"github.com/weiawesome/wes-io-live/live-service/internal/domain"
	"github.com/weiawesome/wes-io-live/live-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/live-service/internal/pubsub"
	"github.com/weiawesome/wes-io-live/live-service/internal/registry"
	"github.com/weiawesome/wes-io-live/live-service/internal/room"
	pkglog "github.com/weiawesome/wes-io-live/live-service/pkg/log"
)

var (
	ErrNotBroadcasting    = errors.New("connection is not broadcasting")
	ErrTargetNotConnected = errors.New("target connection not connected")
	ErrForbidden          = errors.New("connection may not act on this battle")
)

// Options configures the coordinator.
type Options struct {
	// NotifyDrops reports dropped actions back to the initiator as error
	// events instead of dropping them silently.
	NotifyDrops bool
	// BattleMaxDuration ends battles automatically. Zero disables the timer.
	BattleMaxDuration time.Duration

	Metrics *metrics.Metrics
	Emitter Emitter
	// Now defaults to time.Now.
	Now func() time.Time
}

type liveService struct {
	sender      Sender
	emitter     Emitter
	metrics     *metrics.Metrics
	now         func() time.Time
	notifyDrops bool
	maxBattle   time.Duration

	// mu guards the three directories and the timers; all state changes
	// happen while holding it.
	mu       sync.Mutex
	registry *registry.Registry
	rooms    *room.Directory
	battles  *battle.Directory
	timers   map[string]*time.Timer // battle id -> expiry timer
}

// NewLiveService creates the coordinator. Outbound messages go through sender.
func NewLiveService(sender Sender, opts Options) LiveService {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &liveService{
		sender:      sender,
		emitter:     opts.Emitter,
		metrics:     opts.Metrics,
		now:         opts.Now,
		notifyDrops: opts.NotifyDrops,
		maxBattle:   opts.BattleMaxDuration,
		registry:    registry.New(),
		rooms:       room.NewDirectory(),
		battles:     battle.NewDirectory(),
		timers:      make(map[string]*time.Timer),
	}
}

func (s *liveService) HandleConnect(ctx context.Context, connID string) error {
	return s.sender.SendToClient(connID, &domain.ConnectedMessage{
		Type:     domain.EvtConnected,
		SocketID: connID,
	})
}

func (s *liveService) HandlePing(ctx context.Context, connID string) error {
	return s.sender.SendToClient(connID, &domain.PongMessage{Type: domain.EvtPong})
}

func (s *liveService) HandleStartBroadcast(ctx context.Context, connID string, msg *domain.StartBroadcastMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := pkglog.Ctx(ctx)

	// A connection owns at most one room.
	if owned, ok := s.registry.Owned(connID); ok && owned != msg.StreamerID {
		s.endRoom(ctx, owned, domain.EndReasonStreamEnded, pubsub.ReasonReplaced)
	}

	r, replaced := s.rooms.StartBroadcast(msg.StreamerID, msg.StreamerName, connID, s.now())
	if replaced != "" {
		s.registry.Release(replaced)
		l.Warn().
			Str(pkglog.FieldStreamerID, msg.StreamerID).
			Str(pkglog.FieldTargetConn, replaced).
			Msg("broadcast taken over by another connection")
	}
	s.registry.Assign(connID, domain.RoleBroadcaster, msg.StreamerID)

	// Viewers carried over from a replaced broadcaster need fresh offers.
	for _, viewerConn := range r.ViewerConns() {
		s.send(viewerConn, connID, &domain.ViewerJoinedMessage{
			Type:     domain.EvtViewerJoined,
			ViewerID: r.Viewers[viewerConn],
			SocketID: viewerConn,
		})
	}

	s.emit(pubsub.EventStreamStarted, msg.StreamerID, pubsub.StreamStartedPayload{
		StreamerID:   msg.StreamerID,
		StreamerName: msg.StreamerName,
		StartedAt:    r.StartedAt.UnixMilli(),
	})
	if n := len(r.Viewers); n > 0 {
		s.emit(pubsub.EventViewerCount, msg.StreamerID, pubsub.ViewerCountPayload{StreamerID: msg.StreamerID, Count: n})
	}
	s.syncGauges()

	l.Info().
		Str(pkglog.FieldStreamerID, msg.StreamerID).
		Int(pkglog.FieldCount, len(r.Viewers)).
		Msg("broadcast started")
	return nil
}

func (s *liveService) HandleEndBroadcast(ctx context.Context, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned, ok := s.registry.Owned(connID)
	if !ok {
		return s.drop(ctx, connID, metrics.ReasonNotOwner, domain.ErrCodeNotFound, ErrNotBroadcasting)
	}
	s.endRoom(ctx, owned, domain.EndReasonStreamEnded, pubsub.ReasonExplicit)
	s.registry.Release(connID)
	s.syncGauges()
	return nil
}

func (s *liveService) HandleJoinStream(ctx context.Context, connID string, msg *domain.JoinStreamMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.rooms.JoinAsViewer(msg.StreamerID, connID, msg.ViewerID)
	if err != nil {
		return s.drop(ctx, connID, metrics.ReasonRoomNotFound, domain.ErrCodeNotFound,
			fmt.Errorf("join %s: %w", msg.StreamerID, err))
	}
	if r.BroadcasterConn == connID {
		return nil
	}
	s.registry.Watch(connID, msg.StreamerID)

	s.send(connID, r.BroadcasterConn, &domain.ViewerJoinedMessage{
		Type:     domain.EvtViewerJoined,
		ViewerID: msg.ViewerID,
		SocketID: connID,
	})
	s.publishViewerCount(connID, r)
	s.syncGauges()

	l := pkglog.Ctx(ctx)
	l.Debug().
		Str(pkglog.FieldStreamerID, msg.StreamerID).
		Str(pkglog.FieldViewerID, msg.ViewerID).
		Int(pkglog.FieldCount, len(r.Viewers)).
		Msg("viewer joined")
	return nil
}

func (s *liveService) HandleLeaveStream(ctx context.Context, connID string, msg *domain.LeaveStreamMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owned, ok := s.registry.Owned(connID); ok && owned == msg.StreamerID {
		s.endRoom(ctx, owned, domain.EndReasonStreamEnded, pubsub.ReasonExplicit)
		s.registry.Release(connID)
		s.syncGauges()
		return nil
	}

	if err := s.leaveAsViewer(connID, msg.StreamerID); err != nil {
		reason := metrics.ReasonRoomNotFound
		if errors.Is(err, room.ErrNotMember) {
			reason = metrics.ReasonConflict
		}
		return s.drop(ctx, connID, reason, domain.ErrCodeNotFound,
			fmt.Errorf("leave %s: %w", msg.StreamerID, err))
	}
	s.syncGauges()
	return nil
}

func (s *liveService) HandleRelay(ctx context.Context, connID string, msg *domain.RelayMessage) error {
	var out interface{}
	switch msg.Kind {
	case domain.EvtOffer:
		out = &domain.OfferMessage{Type: domain.EvtOffer, SDP: msg.SDP, BroadcasterSocketID: connID}
	case domain.EvtAnswer:
		out = &domain.AnswerMessage{Type: domain.EvtAnswer, SDP: msg.SDP, ViewerSocketID: connID}
	case domain.EvtICECandidate:
		out = &domain.ICECandidateMessage{Type: domain.EvtICECandidate, Candidate: msg.Candidate, FromSocketID: connID}
	default:
		return fmt.Errorf("unknown relay kind %q", msg.Kind)
	}

	if err := s.sender.SendToClient(msg.TargetSocketID, out); err != nil {
		return s.drop(ctx, connID, metrics.ReasonConnNotFound, domain.ErrCodeNotFound,
			fmt.Errorf("relay %s to %s: %w", msg.Kind, msg.TargetSocketID, ErrTargetNotConnected))
	}
	s.metrics.IncRelay(msg.Kind)
	return nil
}

func (s *liveService) HandleChatMessage(ctx context.Context, connID string, msg *domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms.Get(msg.StreamerID)
	if !ok {
		return s.drop(ctx, connID, metrics.ReasonRoomNotFound, domain.ErrCodeNotFound,
			fmt.Errorf("chat %s: %w", msg.StreamerID, room.ErrRoomNotFound))
	}

	s.fanout(connID, r.Members(), &domain.ChatBroadcastMessage{
		Type:         domain.EvtChatMessage,
		StreamerID:   msg.StreamerID,
		Message:      msg.Message,
		SenderName:   msg.SenderName,
		SenderAvatar: msg.SenderAvatar,
	})
	return nil
}

func (s *liveService) HandleDisconnect(ctx context.Context, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.registry.Lookup(connID)
	if !ok {
		return nil
	}

	for _, roomID := range s.registry.Rooms(connID) {
		if entry.Role == domain.RoleBroadcaster && roomID == entry.RoomID {
			continue
		}
		// The room may already be gone; nothing to report then.
		_ = s.leaveAsViewer(connID, roomID)
	}

	if entry.Role == domain.RoleBroadcaster {
		s.endRoom(ctx, entry.RoomID, domain.EndReasonDisconnect, pubsub.ReasonDisconnect)
	}
	s.registry.Clear(connID)
	s.syncGauges()
	return nil
}

func (s *liveService) ActiveStreams() []domain.StreamSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rooms.Snapshot(s.battles.Opponent)
}

func (s *liveService) Stream(streamID string) (*domain.StreamDetail, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms.Get(streamID)
	if !ok {
		return nil, false
	}
	detail := &domain.StreamDetail{StreamSummary: r.Summary()}
	if b, ok := s.battles.Lookup(streamID); ok {
		state := b.State()
		detail.Battle = &state
		detail.BattleOpponent = b.Opponent(streamID)
	}
	return detail, true
}

func (s *liveService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// endRoom removes a room, tells its viewers and ends its battle. Caller
// holds mu and updates the broadcaster's registry entry.
func (s *liveService) endRoom(ctx context.Context, streamID, battleReason, streamReason string) {
	r, ok := s.rooms.Get(streamID)
	if !ok {
		return
	}
	res, err := s.rooms.Leave(streamID, r.BroadcasterConn)
	if err != nil || !res.Ended {
		return
	}

	ended := &domain.StreamEndedMessage{Type: domain.EvtStreamEnded, StreamerID: streamID}
	for _, viewerConn := range res.Viewers {
		s.send(r.BroadcasterConn, viewerConn, ended)
		s.registry.Unwatch(viewerConn, streamID)
	}

	if b, ok := s.battles.Lookup(streamID); ok {
		s.endBattle(ctx, b, battleReason)
	}

	s.emit(pubsub.EventStreamEnded, streamID, pubsub.StreamEndedPayload{StreamerID: streamID, Reason: streamReason})

	l := pkglog.Ctx(ctx)
	l.Info().
		Str(pkglog.FieldStreamerID, streamID).
		Str(pkglog.FieldReason, streamReason).
		Int(pkglog.FieldCount, len(res.Viewers)).
		Msg("broadcast ended")
}

// leaveAsViewer removes connID from the viewers of streamID and announces
// the new count. Caller holds mu.
func (s *liveService) leaveAsViewer(connID, streamID string) error {
	res, err := s.rooms.Leave(streamID, connID)
	s.registry.Unwatch(connID, streamID)
	if err != nil {
		return err
	}
	if res.Ended {
		// Only reachable when connID is the broadcaster, which callers exclude.
		return nil
	}
	if r, ok := s.rooms.Get(streamID); ok {
		s.publishViewerCount(connID, r)
	}
	return nil
}

func (s *liveService) publishViewerCount(from string, r *room.Room) {
	s.fanout(from, r.Members(), domain.NewViewerCountMessage(r.BroadcastID, len(r.Viewers)))
	s.emit(pubsub.EventViewerCount, r.BroadcastID, pubsub.ViewerCountPayload{
		StreamerID: r.BroadcastID,
		Count:      len(r.Viewers),
	})
}

// drop applies the missing-target policy: count, log at debug, and tell the
// initiator only when configured to.
func (s *liveService) drop(ctx context.Context, connID, reason, code string, err error) error {
	s.metrics.IncDropped(reason)

	l := pkglog.Ctx(ctx)
	l.Debug().Err(err).Str(pkglog.FieldReason, reason).Msg("event dropped")

	if s.notifyDrops {
		if sendErr := s.sender.SendToClient(connID, domain.NewErrorMessage(code, err.Error())); sendErr != nil {
			l.Debug().Err(sendErr).Str(pkglog.FieldConnID, connID).Msg("error event not delivered")
		}
	}
	return err
}

// send delivers one message; a failure means the target is gone and its
// disconnect will clean up.
func (s *liveService) send(from, to string, msg interface{}) {
	if err := s.sender.SendToClient(to, msg); err != nil {
		l := pkglog.L()
		l.Debug().Err(err).
			Str(pkglog.FieldConnID, from).
			Str(pkglog.FieldTargetConn, to).
			Msg("outbound message not delivered")
	}
}

func (s *liveService) fanout(from string, conns []string, msg interface{}) {
	seen := make(map[string]struct{}, len(conns))
	for _, c := range conns {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		s.send(from, c, msg)
	}
}

func (s *liveService) emit(eventType, streamID string, payload interface{}) {
	if s.emitter == nil {
		return
	}
	event, err := pubsub.NewEvent(eventType, streamID, payload, s.now())
	if err != nil {
		l := pkglog.L()
		l.Error().Err(err).Str(pkglog.FieldEvent, eventType).Msg("failed to build lifecycle event")
		return
	}
	s.emitter.Emit(event)
}

func (s *liveService) syncGauges() {
	s.metrics.SetState(s.rooms.Len(), s.rooms.TotalViewers(), s.battles.Count())
}
