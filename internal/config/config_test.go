package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestFromViperDefaults(t *testing.T) {
	cfg, err := FromViper(viper.New())
	if err != nil {
		t.Fatalf("FromViper: %v", err)
	}

	if cfg.Server.Port != 8084 {
		t.Errorf("expected port 8084, got %d", cfg.Server.Port)
	}
	if cfg.WebSocket.PongWait != 60*time.Second {
		t.Errorf("expected pong wait 60s, got %v", cfg.WebSocket.PongWait)
	}
	if cfg.WebSocket.SendBuffer != 256 {
		t.Errorf("expected send buffer 256, got %d", cfg.WebSocket.SendBuffer)
	}
	if cfg.Battle.MaxDuration != 0 {
		t.Errorf("expected unlimited battles by default, got %v", cfg.Battle.MaxDuration)
	}
	if cfg.Signal.NotifyDrops {
		t.Error("expected silent drops by default")
	}
	if cfg.PubSub.Driver != "none" {
		t.Errorf("expected pubsub driver none, got %q", cfg.PubSub.Driver)
	}
	if cfg.PubSub.Kafka.Topic != "live-events" {
		t.Errorf("expected kafka topic live-events, got %q", cfg.PubSub.Kafka.Topic)
	}
	if cfg.Index.TTL != 2*time.Hour {
		t.Errorf("expected index ttl 2h, got %v", cfg.Index.TTL)
	}
}

func TestFromViperYAML(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	yaml := `
websocket:
  pong_wait: 15s
battle:
  max_duration: 5m
pubsub:
  driver: " Redis "
signal:
  notify_drops: true
webrtc:
  ice_servers:
    - urls: ["turn:turn.example.com:3478"]
      username: u
      credential: p
`
	if err := v.ReadConfig(strings.NewReader(yaml)); err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}

	cfg, err := FromViper(v)
	if err != nil {
		t.Fatalf("FromViper: %v", err)
	}

	if cfg.WebSocket.PongWait != 15*time.Second {
		t.Errorf("expected pong wait 15s, got %v", cfg.WebSocket.PongWait)
	}
	if cfg.Battle.MaxDuration != 5*time.Minute {
		t.Errorf("expected max duration 5m, got %v", cfg.Battle.MaxDuration)
	}
	if cfg.PubSub.Driver != "redis" {
		t.Errorf("expected normalised driver redis, got %q", cfg.PubSub.Driver)
	}
	if !cfg.Signal.NotifyDrops {
		t.Error("expected notify_drops true")
	}
	if len(cfg.WebRTC.ICEServers) != 1 || cfg.WebRTC.ICEServers[0].Username != "u" {
		t.Errorf("unexpected ice servers: %+v", cfg.WebRTC.ICEServers)
	}
}

func TestICEServerList(t *testing.T) {
	tests := []struct {
		name      string
		servers   []ICEServerConfig
		wantLen   int
		wantFirst string
	}{
		{
			name:      "empty gets stun fallback",
			wantLen:   1,
			wantFirst: defaultSTUN,
		},
		{
			name:      "turn only gets stun prepended",
			servers:   []ICEServerConfig{{URLs: []string{"turn:t.example.com"}}},
			wantLen:   2,
			wantFirst: defaultSTUN,
		},
		{
			name:      "configured stun is kept as is",
			servers:   []ICEServerConfig{{URLs: []string{"stun:s.example.com"}}},
			wantLen:   1,
			wantFirst: "stun:s.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := WebRTCConfig{ICEServers: tt.servers}
			got := c.ICEServerList()
			if len(got) != tt.wantLen {
				t.Fatalf("expected %d servers, got %d", tt.wantLen, len(got))
			}
			if got[0].URLs[0] != tt.wantFirst {
				t.Errorf("expected first url %q, got %q", tt.wantFirst, got[0].URLs[0])
			}
		})
	}
}
