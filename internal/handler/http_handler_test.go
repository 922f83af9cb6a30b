package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/weiawesome/wes-io-live/live-service/internal/config"
	"github.com/weiawesome/wes-io-live/live-service/internal/domain"
	"github.com/weiawesome/wes-io-live/live-service/internal/metrics"
	"github.com/weiawesome/wes-io-live/live-service/internal/service"
	"github.com/weiawesome/wes-io-live/live-service/internal/store"
)

// discardSender accepts every message; the HTTP API only reads state.
type discardSender struct{}

func (discardSender) SendToClient(string, interface{}) error { return nil }

// stubIndex serves a fixed cluster view.
type stubIndex struct {
	streams []domain.StreamSummary
	err     error
}

func (s *stubIndex) SetLive(context.Context, domain.StreamSummary) error   { return nil }
func (s *stubIndex) SetOffline(context.Context, string) error              { return nil }
func (s *stubIndex) SetViewerCount(context.Context, string, int) error     { return nil }
func (s *stubIndex) SetOpponent(context.Context, string, string) error     { return nil }
func (s *stubIndex) Refresh(context.Context, []domain.StreamSummary) error  { return nil }
func (s *stubIndex) List(context.Context) ([]domain.StreamSummary, error) { return s.streams, s.err }
func (s *stubIndex) Close() error                                          { return nil }

func (s *stubIndex) Get(_ context.Context, id string) (*domain.StreamSummary, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, sum := range s.streams {
		if sum.StreamerID == id {
			return &sum, nil
		}
	}
	return nil, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func newTestRouter(t *testing.T, index store.LiveIndex, webrtc config.WebRTCConfig) (*gin.Engine, service.LiveService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics()
	if err := m.Register(reg); err != nil {
		t.Fatalf("register metrics: %v", err)
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := service.NewLiveService(discardSender{}, service.Options{
		Metrics: m,
		Now:     func() time.Time { return now },
	})
	t.Cleanup(svc.Stop)

	r := gin.New()
	NewHandler(svc, index, webrtc, reg).RegisterRoutes(r)
	return r, svc
}

func get(t *testing.T, r http.Handler, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return w, env
}

func TestListLocalStreams(t *testing.T) {
	r, svc := newTestRouter(t, nil, config.WebRTCConfig{})
	ctx := context.Background()

	svc.HandleStartBroadcast(ctx, "c-alice", &domain.StartBroadcastMessage{StreamerID: "alice", StreamerName: "Alice"})
	svc.HandleStartBroadcast(ctx, "c-bob", &domain.StartBroadcastMessage{StreamerID: "bob"})
	svc.HandleJoinStream(ctx, "c-v1", &domain.JoinStreamMessage{StreamerID: "alice", ViewerID: "v1"})

	w, env := get(t, r, "/api/v1/live-streams")
	if w.Code != http.StatusOK || !env.Success {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
	var streams []domain.StreamSummary
	if err := json.Unmarshal(env.Data, &streams); err != nil {
		t.Fatalf("decode streams: %v", err)
	}
	if len(streams) != 2 || streams[0].StreamerID != "alice" || streams[0].ViewerCount != 1 {
		t.Errorf("unexpected streams %+v", streams)
	}
}

func TestListEmptyIsArray(t *testing.T) {
	r, _ := newTestRouter(t, nil, config.WebRTCConfig{})

	_, env := get(t, r, "/api/v1/live-streams")
	if string(env.Data) != "[]" {
		t.Errorf("expected empty array, got %s", env.Data)
	}
}

func TestGetStreamWithBattle(t *testing.T) {
	r, svc := newTestRouter(t, nil, config.WebRTCConfig{})
	ctx := context.Background()

	svc.HandleStartBroadcast(ctx, "c-alice", &domain.StartBroadcastMessage{StreamerID: "alice"})
	svc.HandleStartBroadcast(ctx, "c-bob", &domain.StartBroadcastMessage{StreamerID: "bob"})
	svc.HandlePKAccept(ctx, "c-bob", &domain.PKAcceptMessage{TargetStreamerID: "alice", AcceptingStreamerID: "bob"})
	svc.HandleSendGift(ctx, "c-v1", &domain.SendGiftMessage{StreamerID: "bob", GiftName: "rose", Coins: 5})

	w, env := get(t, r, "/api/v1/live-streams/bob")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	var detail domain.StreamDetail
	if err := json.Unmarshal(env.Data, &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.BattleOpponent != "alice" || detail.Battle == nil {
		t.Fatalf("expected battle against alice, got %+v", detail)
	}
	if detail.Battle.ScoreB != 5 || detail.Battle.ScoreA != 0 {
		t.Errorf("unexpected scores %+v", detail.Battle)
	}

	w, env = get(t, r, "/api/v1/live-streams/nobody")
	if w.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %d %s", w.Code, w.Body.String())
	}
}

func TestClusterScope(t *testing.T) {
	tests := []struct {
		name   string
		index  store.LiveIndex
		path   string
		status int
		count  int
	}{
		{"index disabled", nil, "/api/v1/live-streams?scope=cluster", http.StatusServiceUnavailable, 0},
		{"index error", &stubIndex{err: errors.New("boom")}, "/api/v1/live-streams?scope=cluster", http.StatusInternalServerError, 0},
		{"list", &stubIndex{streams: []domain.StreamSummary{{StreamerID: "remote", ViewerCount: 3}}}, "/api/v1/live-streams?scope=cluster", http.StatusOK, 1},
		{"get", &stubIndex{streams: []domain.StreamSummary{{StreamerID: "remote"}}}, "/api/v1/live-streams/remote?scope=cluster", http.StatusOK, -1},
		{"get missing", &stubIndex{}, "/api/v1/live-streams/remote?scope=cluster", http.StatusNotFound, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(t, tt.index, config.WebRTCConfig{})

			w, env := get(t, r, tt.path)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d %s", tt.status, w.Code, w.Body.String())
			}
			if tt.count >= 0 && tt.status == http.StatusOK {
				var streams []domain.StreamSummary
				json.Unmarshal(env.Data, &streams)
				if len(streams) != tt.count {
					t.Errorf("expected %d streams, got %+v", tt.count, streams)
				}
			}
		})
	}
}

func TestICEServers(t *testing.T) {
	r, _ := newTestRouter(t, nil, config.WebRTCConfig{
		ICEServers: []config.ICEServerConfig{{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"}},
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ice-servers", nil))

	var body struct {
		ICEServers []config.ICEServer `json:"iceServers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.ICEServers) != 2 {
		t.Fatalf("expected STUN fallback plus TURN, got %+v", body.ICEServers)
	}
	if !strings.HasPrefix(body.ICEServers[0].URLs[0], "stun:") {
		t.Errorf("expected STUN first, got %+v", body.ICEServers[0])
	}
	if body.ICEServers[1].Username != "u" {
		t.Errorf("TURN credentials lost: %+v", body.ICEServers[1])
	}
}

func TestHealthAndMetrics(t *testing.T) {
	r, svc := newTestRouter(t, nil, config.WebRTCConfig{})
	svc.HandleStartBroadcast(context.Background(), "c-alice", &domain.StartBroadcastMessage{StreamerID: "alice"})

	w, _ := get(t, r, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("health returned %d", w.Code)
	}

	w, _ = get(t, r, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics returned %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "live_rooms 1") {
		t.Errorf("live_rooms gauge missing from exposition:\n%s", w.Body.String())
	}
}
