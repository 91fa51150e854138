package protocol

import (
	"errors"
	"testing"
)

func TestParseChannel(t *testing.T) {
	for _, ch := range Channels() {
		got, err := ParseChannel(string(ch))
		if err != nil {
			t.Errorf("ParseChannel(%q): %v", ch, err)
		}
		if got != ch {
			t.Errorf("ParseChannel(%q) = %q", ch, got)
		}
	}
}

func TestParseChannel_Unknown(t *testing.T) {
	_, err := ParseChannel("carrier_pigeon")
	var unknown *UnknownChannelError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownChannelError", err)
	}
	if unknown.Name != "carrier_pigeon" {
		t.Errorf("name = %q", unknown.Name)
	}
}

func TestNewMessage(t *testing.T) {
	m := NewMessage(ChannelStatus, "builder", map[string]any{"event": "step_start"})
	if m.ID == "" {
		t.Error("message has no ID")
	}
	if m.Channel != ChannelStatus || m.Sender != "builder" {
		t.Errorf("message = %+v", m)
	}
	if m.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}

	m2 := NewMessage(ChannelStatus, "builder", nil)
	if m2.ID == m.ID {
		t.Error("IDs not unique")
	}
}
