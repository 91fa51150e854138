package planner

import (
	"encoding/json"
	"errors"
)

// ErrNoPayload is returned when no message in a transcript carries a
// parseable JSON object.
var ErrNoPayload = errors.New("planner: no JSON payload found in transcript")

// ExtractObject scans the transcript newest-to-oldest and returns the first
// output_text block that parses as a JSON object.
func ExtractObject(t Transcript) (map[string]any, error) {
	for i := len(t) - 1; i >= 0; i-- {
		for _, item := range t[i].Content {
			if item.Type != "output_text" {
				continue
			}
			var payload map[string]any
			if err := json.Unmarshal([]byte(item.Text), &payload); err != nil {
				continue
			}
			return payload, nil
		}
	}
	return nil, ErrNoPayload
}

// ExtractActions scans the transcript newest-to-oldest for a payload of the
// shape {"actions":[{"tool":...,"arguments":...}]}. A transcript without one
// yields an empty action list, not an error.
func ExtractActions(t Transcript) []Action {
	type actionsPayload struct {
		Actions []Action `json:"actions"`
	}
	for i := len(t) - 1; i >= 0; i-- {
		for _, item := range t[i].Content {
			if item.Type != "output_text" {
				continue
			}
			var payload map[string]json.RawMessage
			if err := json.Unmarshal([]byte(item.Text), &payload); err != nil {
				continue
			}
			rawActions, ok := payload["actions"]
			if !ok {
				continue
			}
			var list []Action
			if err := json.Unmarshal(rawActions, &list); err != nil {
				continue
			}
			return list
		}
	}
	return nil
}
