package addr

import "testing"

func TestMakeParseRoundTrip(t *testing.T) {
	tests := []struct {
		chatID  string
		topicID int64
	}{
		{"123", 0},
		{"123", 5},
		{"-1001234567890", 42},
		{"abc", 1},
	}
	for _, tt := range tests {
		id := Make(tt.chatID, tt.topicID)
		chat, topic := Parse(id)
		if chat != tt.chatID || topic != tt.topicID {
			t.Errorf("Parse(Make(%q, %d)) = (%q, %d)", tt.chatID, tt.topicID, chat, topic)
		}
	}
}

func TestMakeWithoutTopic(t *testing.T) {
	if got := Make("123", 0); got != "123" {
		t.Errorf("Make(123, 0) = %q, want bare chat id", got)
	}
}

func TestParseBareChat(t *testing.T) {
	chat, topic := Parse("123")
	if chat != "123" || topic != 0 {
		t.Errorf("Parse(123) = (%q, %d), want (123, 0)", chat, topic)
	}
}

func TestParseMalformedTopic(t *testing.T) {
	// A non-numeric topic part is not a topic at all.
	chat, topic := Parse("123:abc")
	if chat != "123:abc" || topic != 0 {
		t.Errorf("Parse(123:abc) = (%q, %d), want whole string as chat", chat, topic)
	}
}

func TestIsTopic(t *testing.T) {
	if IsTopic("123") {
		t.Error("IsTopic(123) = true, want false")
	}
	if !IsTopic("123:5") {
		t.Error("IsTopic(123:5) = false, want true")
	}
}
