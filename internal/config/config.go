package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const EnvConfigPath = "REPLYGUARD_CONFIG"

type Config struct {
	LogLevel string         `json:"log_level" yaml:"log_level"`
	Cooldown CooldownConfig `json:"cooldown" yaml:"cooldown"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	API      APIConfig      `json:"api" yaml:"api"`
	Schedule ScheduleConfig `json:"schedule" yaml:"schedule"`
	Messages MessagesConfig `json:"messages" yaml:"messages"`
	Intents  IntentsConfig  `json:"intents" yaml:"intents"`
	Kafka    KafkaConfig    `json:"kafka" yaml:"kafka"`
	History  HistoryConfig  `json:"history" yaml:"history"`
}

type CooldownConfig struct {
	Window         Duration `json:"window" yaml:"window"`
	CacheRetention Duration `json:"cache_retention" yaml:"cache_retention"`
	SweepInterval  Duration `json:"sweep_interval" yaml:"sweep_interval"`
	StoreTimeout   Duration `json:"store_timeout" yaml:"store_timeout"`
	Coalesce       bool     `json:"coalesce" yaml:"coalesce"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

type APIConfig struct {
	Addr         string   `json:"addr" yaml:"addr"`
	ReadTimeout  Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout" yaml:"write_timeout"`
}

type ScheduleConfig struct {
	Timezone string             `json:"timezone" yaml:"timezone"`
	Weekly   map[string]DayHours `json:"weekly,omitempty" yaml:"weekly,omitempty"`
}

// DayHours is an opening range in "HH:MM" form. Close may be "24:00".
type DayHours struct {
	Open  string `json:"open" yaml:"open"`
	Close string `json:"close" yaml:"close"`
}

type MessagesConfig struct {
	FallbackOpen   string `json:"fallback_open" yaml:"fallback_open"`
	FallbackClosed string `json:"fallback_closed" yaml:"fallback_closed"`
	ResetAck       string `json:"reset_ack" yaml:"reset_ack"`
}

type IntentsConfig struct {
	Fallback []string `json:"fallback" yaml:"fallback"`
	Reset    []string `json:"reset" yaml:"reset"`
}

type KafkaConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	Brokers       []string `json:"brokers" yaml:"brokers"`
	Topic         string   `json:"topic" yaml:"topic"`
	GroupID       string   `json:"group_id" yaml:"group_id"`
	ReplyTopic    string   `json:"reply_topic" yaml:"reply_topic"`
	ChannelBuffer int      `json:"channel_buffer" yaml:"channel_buffer"`
}

type HistoryConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

// Duration accepts Go duration strings ("5m") or integer milliseconds in config files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return d.set(v)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v any) error {
	switch val := v.(type) {
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(val) * time.Millisecond)
	case float64:
		*d = Duration(time.Duration(val) * time.Millisecond)
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Cooldown: CooldownConfig{
			Window:         Duration(5 * time.Minute),
			CacheRetention: Duration(10 * time.Minute),
			SweepInterval:  Duration(5 * time.Minute),
			StoreTimeout:   Duration(3 * time.Second),
		},
		// empty DSN lets each driver pick its own local default
		Storage: StorageConfig{Driver: "sqlite"},
		API: APIConfig{
			Addr:         ":8080",
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(10 * time.Second),
		},
		Schedule: ScheduleConfig{Timezone: "Asia/Taipei"},
		Messages: MessagesConfig{
			FallbackOpen:   "Thanks for your message! A staff member will get back to you shortly.",
			FallbackClosed: "Thanks for your message! We are currently outside business hours (Mon-Sat 09:00-24:00, Sun 09:00-18:00) and will reply as soon as we are back.",
			ResetAck:       "Got it, a staff member has been notified.",
		},
		Intents: IntentsConfig{
			Fallback: []string{"Default Fallback Intent"},
			Reset:    []string{"Reset Cooldown"},
		},
		Kafka:   KafkaConfig{Enabled: false, ChannelBuffer: 1000},
		History: HistoryConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Cooldown.Window <= 0 {
		cfg.Cooldown.Window = def.Cooldown.Window
	}
	if cfg.Cooldown.CacheRetention <= 0 {
		cfg.Cooldown.CacheRetention = def.Cooldown.CacheRetention
	}
	if cfg.Cooldown.SweepInterval <= 0 {
		cfg.Cooldown.SweepInterval = def.Cooldown.SweepInterval
	}
	if cfg.Cooldown.StoreTimeout <= 0 {
		cfg.Cooldown.StoreTimeout = def.Cooldown.StoreTimeout
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = def.Storage.Driver
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = def.Schedule.Timezone
	}
	if len(cfg.Intents.Fallback) == 0 {
		cfg.Intents.Fallback = def.Intents.Fallback
	}
	if len(cfg.Intents.Reset) == 0 {
		cfg.Intents.Reset = def.Intents.Reset
	}
	if cfg.Kafka.ChannelBuffer <= 0 {
		cfg.Kafka.ChannelBuffer = def.Kafka.ChannelBuffer
	}
	if cfg.History.StoreLimit <= 0 {
		cfg.History.StoreLimit = def.History.StoreLimit
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Addr == "" {
		return errors.New("api.addr is required")
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory", "sqlite", "postgres", "postgresql", "redis":
	default:
		return fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver)
	}
	if strings.ToLower(cfg.Storage.Driver) == "redis" && cfg.Storage.DSN == "" {
		return errors.New("storage.dsn required when storage.driver is redis")
	}
	if cfg.Cooldown.CacheRetention.Std() < cfg.Cooldown.Window.Std() {
		return fmt.Errorf("cooldown.cache_retention (%s) must not be shorter than cooldown.window (%s)", cfg.Cooldown.CacheRetention, cfg.Cooldown.Window)
	}
	if _, err := time.LoadLocation(cfg.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	for day, hours := range cfg.Schedule.Weekly {
		if _, ok := ParseWeekday(day); !ok {
			return fmt.Errorf("schedule.weekly: unknown day %q", day)
		}
		if _, err := ParseClock(hours.Open); err != nil {
			return fmt.Errorf("schedule.weekly.%s.open: %w", day, err)
		}
		if _, err := ParseClock(hours.Close); err != nil {
			return fmt.Errorf("schedule.weekly.%s.close: %w", day, err)
		}
	}
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" || cfg.Kafka.GroupID == "" {
			return errors.New("kafka requires brokers, topic, group_id")
		}
	}
	return nil
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return 0, false
}

// ParseClock converts "HH:MM" into an offset from midnight. "24:00" is allowed.
func ParseClock(s string) (time.Duration, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager serves a fixed config with no backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

// ResolvePath picks the config path from the flag, then REPLYGUARD_CONFIG, and makes it absolute.
func ResolvePath(path string) string {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
