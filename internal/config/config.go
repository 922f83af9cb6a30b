package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/weiawesome/wes-io-live/live-service/pkg/config"
)

const defaultSTUN = "stun:stun.l.google.com:19302"

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Signal    SignalConfig
	Battle    BattleConfig
	PubSub    PubSubConfig
	Index     IndexConfig
	Events    EventsConfig
	WebRTC    WebRTCConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type SignalConfig struct {
	// NotifyDrops sends an error event back to the initiator of an action
	// that referenced a missing room, battle or connection.
	NotifyDrops bool `mapstructure:"notify_drops"`
}

type BattleConfig struct {
	// MaxDuration ends a battle automatically. Zero means unlimited.
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

type PubSubConfig struct {
	Driver string // kafka | redis | none
	Kafka  KafkaConfig
	Redis  RedisConfig
}

type KafkaConfig struct {
	Brokers    string
	Topic      string
	Partitions int
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type IndexConfig struct {
	Enabled bool
	TTL     time.Duration
}

type EventsConfig struct {
	Buffer int
}

type WebRTCConfig struct {
	ICEServers []ICEServerConfig `mapstructure:"ice_servers"`
}

type ICEServerConfig struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads ./config/config.yaml (optional) and the environment.
func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper applies defaults and env bindings to v and decodes it.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("pubsub.kafka.topic", "KAFKA_LIVE_TOPIC")
	v.BindEnv("signal.notify_drops", "SIGNAL_NOTIFY_DROPS")
	v.BindEnv("battle.max_duration", "BATTLE_MAX_DURATION")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Battle.MaxDuration = pkgconfig.Duration(v, "battle.max_duration", 0)
	cfg.Index.TTL = pkgconfig.Duration(v, "index.ttl", 2*time.Hour)

	cfg.PubSub.Driver = strings.ToLower(strings.TrimSpace(cfg.PubSub.Driver))

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8084)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("signal.notify_drops", false)
	v.SetDefault("battle.max_duration", "0s")
	v.SetDefault("pubsub.driver", "none")
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.topic", "live-events")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.password", "")
	v.SetDefault("pubsub.redis.db", 0)
	v.SetDefault("index.enabled", false)
	v.SetDefault("index.ttl", "2h")
	v.SetDefault("events.buffer", 1024)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// ICEServer represents an ICE server configuration for clients.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ICEServerList returns the configured servers, prefixed with a public STUN
// server when none of them is a STUN server.
func (c *WebRTCConfig) ICEServerList() []ICEServer {
	servers := make([]ICEServer, 0, len(c.ICEServers)+1)
	hasSTUN := false
	for _, s := range c.ICEServers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "stun:") || strings.HasPrefix(u, "stuns:") {
				hasSTUN = true
			}
		}
		servers = append(servers, ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	if !hasSTUN {
		servers = append([]ICEServer{{URLs: []string{defaultSTUN}}}, servers...)
	}
	return servers
}
