package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// strikeRecord captures the members we need from a pulse object. Pointers let us
// tell a missing member from a zero coordinate.
type strikeRecord struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// ParseStrikeMessage decodes one websocket frame into zero or more events.
//
// A JSON object with numeric lat/lon yields one event; a JSON array yields one
// event per qualifying element. Everything else (keep-alives, malformed JSON,
// objects without coordinates) yields nothing. Parse failures are never errors.
func ParseStrikeMessage(data []byte) []LightningEvent {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	now := clock.Now()

	switch data[0] {
	case '{':
		if ev, ok := parseStrikeObject(data, now); ok {
			return []LightningEvent{ev}
		}
		return nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil
		}
		events := make([]LightningEvent, 0, len(items))
		for _, item := range items {
			if ev, ok := parseStrikeObject(item, now); ok {
				events = append(events, ev)
			}
		}
		return events
	default:
		return nil
	}
}

func parseStrikeObject(data json.RawMessage, now time.Time) (LightningEvent, bool) {
	var rec strikeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return LightningEvent{}, false
	}
	if rec.Lat == nil || rec.Lon == nil {
		return LightningEvent{}, false
	}
	return LightningEvent{
		Latitude:   *rec.Lat,
		Longitude:  *rec.Lon,
		ReceivedAt: now,
		Raw:        append(json.RawMessage(nil), data...),
	}, true
}
