package model

import "time"

type Action string

const (
	ActionFallback Action = "fallback"
	ActionReset    Action = "reset"
	ActionIgnore   Action = "ignore"
)

// CooldownRecord is the authoritative per-user state kept in the persistent store.
type CooldownRecord struct {
	UserID             string    `json:"user_id"`
	LastFallbackTime   time.Time `json:"last_fallback_time"`
	LastUpdated        string    `json:"last_updated"`
	CooldownResetCount int64     `json:"cooldown_reset_count"`
	TotalFallbacks     int64     `json:"total_fallbacks"`
}

// CacheEntry mirrors a CooldownRecord in memory. Timestamp is the last permitted
// instant; LastUpdated is when the entry was written and only drives eviction.
type CacheEntry struct {
	Timestamp   time.Time
	LastUpdated time.Time
}

type Decision struct {
	CanSend  bool          `json:"can_send"`
	LastTime time.Time     `json:"last_time"`
	TimeLeft time.Duration `json:"time_left"`
	Degraded bool          `json:"degraded"`
}

type InboundEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Anonymous bool      `json:"anonymous,omitempty"`
	Intent    string    `json:"intent"`
	Action    Action    `json:"action"`
	Text      string    `json:"text,omitempty"`
	Source    string    `json:"source,omitempty"`
}

type Reply struct {
	UserID   string   `json:"user_id"`
	Text     string   `json:"text,omitempty"`
	Decision Decision `json:"decision"`
}

// DecisionEvent is one evaluated inbound event as kept by the history buffer.
type DecisionEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	EventID    string    `json:"event_id,omitempty"`
	UserID     string    `json:"user_id"`
	Action     Action    `json:"action"`
	Source     string    `json:"source,omitempty"`
	CanSend    bool      `json:"can_send"`
	Degraded   bool      `json:"degraded"`
	TimeLeftMS int64     `json:"time_left_ms"`
	Replied    bool      `json:"replied"`
}

type ServiceStatus struct {
	Status         string    `json:"status"`
	LastConnection time.Time `json:"last_connection"`
	LastShutdown   time.Time `json:"last_shutdown"`
	ErrorRecord    string    `json:"error_record,omitempty"`
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusError   = "error"
)
