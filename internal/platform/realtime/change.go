// Package realtime turns PostgreSQL row-change notifications into
// "<table>:updated" events on a process-wide bus.
//
// Tables publish changes through the notify_row_change() trigger on the
// channel "<table>_changes". A Manager keeps one backend listener per
// subscribed table (or one per subscription in per-call mode), reconnects
// dropped listeners and re-emits every change on a Bus.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMalformedPayload = errors.New("malformed change payload")
	ErrConnectionLost   = errors.New("change stream connection lost")
	ErrClosed           = errors.New("realtime manager closed")
)

// Change is one row-level write as published by the database.
type Change struct {
	EventType       string         `json:"eventType"`
	Schema          string         `json:"schema"`
	Table           string         `json:"table"`
	New             map[string]any `json:"new,omitempty"`
	Old             map[string]any `json:"old,omitempty"`
	CommitTimestamp time.Time      `json:"commit_timestamp"`
}

// ChannelName is the notification channel the trigger publishes table's
// changes on. Schema qualifiers are dropped because the trigger only knows
// the bare table name.
func ChannelName(table string) string {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		table = table[i+1:]
	}
	return table + "_changes"
}

// EventName is the bus event emitted for every change on table.
func EventName(table string) string {
	return table + ":updated"
}

func ParseChange(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return c, nil
}
