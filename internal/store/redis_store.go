package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-live/live-service/internal/domain"
)

// LiveIndex is a cluster-wide view of live streams, fed asynchronously from
// lifecycle events. It is never read by the signaling core.
type LiveIndex interface {
	SetLive(ctx context.Context, s domain.StreamSummary) error
	SetOffline(ctx context.Context, streamID string) error
	SetViewerCount(ctx context.Context, streamID string, count int) error
	SetOpponent(ctx context.Context, streamID, opponent string) error
	// Refresh rewrites the given streams and renews their expiry.
	Refresh(ctx context.Context, streams []domain.StreamSummary) error
	List(ctx context.Context) ([]domain.StreamSummary, error)
	Get(ctx context.Context, streamID string) (*domain.StreamSummary, error)
	Close() error
}

// Redis key patterns:
// live:streams          SET<stream_id>  - streams currently live
// live:stream:{id}      HASH            - stream summary
//   - streamer_id, streamer_name
//   - viewer_count
//   - started_at: unix millis
//   - battle_opponent: empty when not battling

const liveStreamsKey = "live:streams"

func streamKey(streamID string) string {
	return fmt.Sprintf("live:stream:%s", streamID)
}

const (
	fieldStreamerID     = "streamer_id"
	fieldStreamerName   = "streamer_name"
	fieldViewerCount    = "viewer_count"
	fieldStartedAt      = "started_at"
	fieldBattleOpponent = "battle_opponent"
)

type redisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	owned  bool
}

// NewRedisStore uses client for the index. Each hash write refreshes ttl so
// entries of a crashed instance expire on their own.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) LiveIndex {
	return &redisStore{client: client, ttl: ttl}
}

// DialRedisStore connects a dedicated client and checks it with PING.
func DialRedisStore(ctx context.Context, opts *redis.Options, ttl time.Duration) (LiveIndex, error) {
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &redisStore{client: client, ttl: ttl, owned: true}, nil
}

func (s *redisStore) SetLive(ctx context.Context, sum domain.StreamSummary) error {
	key := streamKey(sum.StreamerID)

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, liveStreamsKey, sum.StreamerID)
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, encodeSummary(sum))
	s.expire(ctx, pipe, key)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) SetOffline(ctx context.Context, streamID string) error {
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, liveStreamsKey, streamID)
	pipe.Del(ctx, streamKey(streamID))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) SetViewerCount(ctx context.Context, streamID string, count int) error {
	return s.updateField(ctx, streamID, fieldViewerCount, strconv.Itoa(count))
}

func (s *redisStore) SetOpponent(ctx context.Context, streamID, opponent string) error {
	return s.updateField(ctx, streamID, fieldBattleOpponent, opponent)
}

// updateField only touches streams that are still indexed, so a late event
// cannot resurrect a stream that already went offline.
func (s *redisStore) updateField(ctx context.Context, streamID, field, value string) error {
	key := streamKey(streamID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, field, value)
	s.expire(ctx, pipe, key)
	_, err = pipe.Exec(ctx)
	return err
}

// Refresh overwrites each summary with the coordinator's current view. It is
// the heartbeat that keeps long-lived streams from expiring.
func (s *redisStore) Refresh(ctx context.Context, streams []domain.StreamSummary) error {
	if len(streams) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, sum := range streams {
		key := streamKey(sum.StreamerID)
		pipe.SAdd(ctx, liveStreamsKey, sum.StreamerID)
		pipe.HSet(ctx, key, encodeSummary(sum))
		s.expire(ctx, pipe, key)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisStore) expire(ctx context.Context, pipe redis.Pipeliner, key string) {
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
}

func (s *redisStore) List(ctx context.Context) ([]domain.StreamSummary, error) {
	ids, err := s.client.SMembers(ctx, liveStreamsKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.StreamSummary{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, streamKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	out := make([]domain.StreamSummary, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, decodeSummary(fields))
	}
	if len(stale) > 0 {
		s.client.SRem(ctx, liveStreamsKey, stale...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].StreamerID < out[j].StreamerID })
	return out, nil
}

// Get returns nil without error when the stream is not indexed.
func (s *redisStore) Get(ctx context.Context, streamID string) (*domain.StreamSummary, error) {
	fields, err := s.client.HGetAll(ctx, streamKey(streamID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	sum := decodeSummary(fields)
	return &sum, nil
}

func (s *redisStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

func encodeSummary(s domain.StreamSummary) map[string]interface{} {
	return map[string]interface{}{
		fieldStreamerID:     s.StreamerID,
		fieldStreamerName:   s.StreamerName,
		fieldViewerCount:    strconv.Itoa(s.ViewerCount),
		fieldStartedAt:      strconv.FormatInt(s.StartedAt.UnixMilli(), 10),
		fieldBattleOpponent: s.BattleOpponent,
	}
}

func decodeSummary(fields map[string]string) domain.StreamSummary {
	s := domain.StreamSummary{
		StreamerID:     fields[fieldStreamerID],
		StreamerName:   fields[fieldStreamerName],
		BattleOpponent: fields[fieldBattleOpponent],
	}
	if n, err := strconv.Atoi(fields[fieldViewerCount]); err == nil {
		s.ViewerCount = n
	}
	if ms, err := strconv.ParseInt(fields[fieldStartedAt], 10, 64); err == nil {
		s.StartedAt = time.UnixMilli(ms).UTC()
	}
	return s
}
