package cache

import (
	"encoding/json"
	"time"
)

// Kind separates the result families sharing one key space.
type Kind string

const (
	KindInsights   Kind = "insights"
	KindDetections Kind = "detections"
)

// entry is the stored envelope of a cached result.
type entry struct {
	Kind     Kind            `json:"kind"`
	CachedAt time.Time       `json:"cached_at"`
	TTL      int64           `json:"ttl"`
	Data     json.RawMessage `json:"data"`
}

// Stats represents cache performance statistics
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}

// Config contains cache configuration
type Config struct {
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout    time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}
