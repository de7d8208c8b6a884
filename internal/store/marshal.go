package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/pimsync/internal/model"
	"github.com/roach88/pimsync/internal/recurrence"
)

// timeLayout is fixed-width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

// encodeJSON marshals with HTML escaping disabled and no trailing newline.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// marshalPayload encodes the item's content. Store-owned columns (id,
// version, timestamps, metadata) and series overrides are stored apart.
func marshalPayload(it model.Item) (string, error) {
	it.ID = ""
	it.Version = ""
	it.Metadata = nil
	it.Created = time.Time{}
	it.Modified = time.Time{}
	data, err := encodeJSON(it)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

func unmarshalPayload(data string) (model.Item, error) {
	var it model.Item
	if err := json.Unmarshal([]byte(data), &it); err != nil {
		return model.Item{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	return it, nil
}

// marshalMetadata encodes custom fields. Go sorts map keys, so output is
// deterministic.
func marshalMetadata(md map[string]string) (string, error) {
	if len(md) == 0 {
		return "{}", nil
	}
	data, err := encodeJSON(md)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}

func unmarshalMetadata(data string) (map[string]string, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var md map[string]string
	if err := json.Unmarshal([]byte(data), &md); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return md, nil
}

func marshalInstance(inst recurrence.Instance) (string, error) {
	data, err := encodeJSON(inst)
	if err != nil {
		return "", fmt.Errorf("marshal instance: %w", err)
	}
	return data, nil
}

func unmarshalInstance(data string) (recurrence.Instance, error) {
	var inst recurrence.Instance
	if err := json.Unmarshal([]byte(data), &inst); err != nil {
		return recurrence.Instance{}, fmt.Errorf("unmarshal instance: %w", err)
	}
	return inst, nil
}
