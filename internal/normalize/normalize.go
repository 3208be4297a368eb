package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"replyguard/internal/config"
	"replyguard/internal/model"
)

const anonymousPrefix = "anonymous-"

// EventFields is the loosely typed shape every inbound transport is reduced to.
type EventFields struct {
	ID        string
	Timestamp string
	UserID    string
	Session   string
	Intent    string
	Text      string
	Source    string
	Extras    map[string]string
}

func Normalize(fields EventFields, intents config.IntentsConfig, now time.Time) (model.InboundEvent, error) {
	ts := now.UTC()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, time.UTC)
		if err != nil {
			return model.InboundEvent{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}
	userID, anonymous := ResolveIdentity(fields.UserID, fields.Session, now)
	intent := strings.TrimSpace(fields.Intent)
	return model.InboundEvent{
		ID:        strings.TrimSpace(fields.ID),
		Timestamp: ts,
		UserID:    userID,
		Anonymous: anonymous,
		Intent:    intent,
		Action:    ParseAction(intent, intents),
		Text:      fields.Text,
		Source:    fields.Source,
	}, nil
}

// ResolveIdentity prefers an explicit user id, then the last segment of the
// session path, and otherwise mints anonymous-<epoch ms>.
func ResolveIdentity(userID, session string, now time.Time) (string, bool) {
	if id := strings.TrimSpace(userID); id != "" {
		return id, false
	}
	session = strings.Trim(strings.TrimSpace(session), "/")
	if session != "" {
		if i := strings.LastIndex(session, "/"); i >= 0 {
			session = session[i+1:]
		}
		if session != "" {
			return session, false
		}
	}
	return anonymousPrefix + strconv.FormatInt(now.UnixMilli(), 10), true
}

func IsAnonymous(userID string) bool {
	return strings.HasPrefix(userID, anonymousPrefix)
}

// ParseAction maps an intent display name onto what the dispatcher should do.
// Matching is case-insensitive; reset names win over fallback names.
func ParseAction(intent string, intents config.IntentsConfig) model.Action {
	intent = strings.TrimSpace(intent)
	if intent == "" {
		return model.ActionIgnore
	}
	for _, name := range intents.Reset {
		if strings.EqualFold(intent, strings.TrimSpace(name)) {
			return model.ActionReset
		}
	}
	for _, name := range intents.Fallback {
		if strings.EqualFold(intent, strings.TrimSpace(name)) {
			return model.ActionFallback
		}
	}
	return model.ActionIgnore
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z0700",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
