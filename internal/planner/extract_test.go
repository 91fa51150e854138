package planner

import (
	"errors"
	"testing"
)

func textMessage(role, text string) ThreadMessage {
	return ThreadMessage{
		Role:    role,
		Content: []ContentItem{{Type: "output_text", Text: text}},
	}
}

func TestExtractObject_LastParseableWins(t *testing.T) {
	transcript := Transcript{
		textMessage("assistant", "not json"),
		textMessage("assistant", `{"mission_brief":"x","roles":[],"workflow":[],"communication":{}}`),
	}

	payload, err := ExtractObject(transcript)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if payload["mission_brief"] != "x" {
		t.Errorf("mission_brief = %v, want x", payload["mission_brief"])
	}
}

func TestExtractObject_ScansNewestFirst(t *testing.T) {
	transcript := Transcript{
		textMessage("assistant", `{"version":"old"}`),
		textMessage("assistant", `{"version":"new"}`),
	}

	payload, err := ExtractObject(transcript)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if payload["version"] != "new" {
		t.Errorf("version = %v, want new (newest message wins)", payload["version"])
	}
}

func TestExtractObject_SkipsNonTextBlocks(t *testing.T) {
	transcript := Transcript{
		ThreadMessage{Role: "assistant", Content: []ContentItem{
			{Type: "image", Text: `{"should":"be ignored"}`},
			{Type: "output_text", Text: `{"found":true}`},
		}},
	}

	payload, err := ExtractObject(transcript)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if payload["found"] != true {
		t.Errorf("payload = %v, want found:true", payload)
	}
}

func TestExtractObject_NoPayload(t *testing.T) {
	transcript := Transcript{
		textMessage("assistant", "plain prose"),
		textMessage("assistant", "[1,2,3]"),
	}

	_, err := ExtractObject(transcript)
	if !errors.Is(err, ErrNoPayload) {
		t.Fatalf("err = %v, want ErrNoPayload", err)
	}
}

func TestExtractActions(t *testing.T) {
	transcript := Transcript{
		textMessage("user", "do the thing"),
		textMessage("assistant", `{"actions":[{"tool":"run_command","arguments":{"command":"make test"}},{"tool":"read_file","arguments":{"path":"go.mod"}}]}`),
	}

	actions := ExtractActions(transcript)
	if len(actions) != 2 {
		t.Fatalf("got %d actions, want 2", len(actions))
	}
	if actions[0].Tool != "run_command" || actions[0].Arguments["command"] != "make test" {
		t.Errorf("action[0] = %+v", actions[0])
	}
	if actions[1].Tool != "read_file" {
		t.Errorf("action[1] = %+v", actions[1])
	}
}

func TestExtractActions_MissingIsEmpty(t *testing.T) {
	transcript := Transcript{
		textMessage("assistant", `{"summary":"nothing to do"}`),
	}
	if actions := ExtractActions(transcript); len(actions) != 0 {
		t.Fatalf("got %d actions, want 0", len(actions))
	}
}

func TestExtractActions_SkipsMalformedNewerPayload(t *testing.T) {
	transcript := Transcript{
		textMessage("assistant", `{"actions":[{"tool":"run_command","arguments":{}}]}`),
		textMessage("assistant", `{"actions":"not a list"}`),
	}

	actions := ExtractActions(transcript)
	if len(actions) != 1 || actions[0].Tool != "run_command" {
		t.Fatalf("actions = %+v, want the older valid payload", actions)
	}
}
