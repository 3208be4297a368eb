package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"replyguard/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.EventFields, error) {
	var obj map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// ParseJSONMap reads a flat event object, accepting the field aliases the
// messaging bridges in front of us emit.
func ParseJSONMap(obj map[string]interface{}) *normalize.EventFields {
	fields := &normalize.EventFields{Extras: map[string]string{}}
	for key, val := range obj {
		if val == nil {
			continue
		}
		fields.Extras[strings.ToLower(key)] = formatValue(val)
	}
	fields.ID = firstNonEmpty(fields.Extras, "id", "event_id", "eventid", "response_id", "responseid", "message_id")
	fields.Timestamp = firstNonEmpty(fields.Extras, "timestamp", "time", "ts")
	fields.UserID = firstNonEmpty(fields.Extras, "user_id", "userid", "user", "sender", "from")
	fields.Session = firstNonEmpty(fields.Extras, "session", "session_id", "sessionid", "conversation")
	fields.Intent = firstNonEmpty(fields.Extras, "intent", "intent_name", "action", "command")
	fields.Text = firstNonEmpty(fields.Extras, "text", "query_text", "querytext", "message")
	return fields
}

func firstNonEmpty(values map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(values[k]); v != "" {
			return v
		}
	}
	return ""
}

// formatValue renders numbers in plain decimal so epoch timestamps and large
// numeric ids survive the trip through a string.
func formatValue(val interface{}) string {
	switch v := val.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}
