package message

import (
	"testing"
)

func TestNewMessage(t *testing.T) {
	msg := NewMessage(RoleUser, "Hello, world!")

	if msg.Role != RoleUser {
		t.Errorf("Expected role %s, got %s", RoleUser, msg.Role)
	}
	if msg.Content != "Hello, world!" {
		t.Errorf("Expected content 'Hello, world!', got '%s'", msg.Content)
	}
	if msg.ID == "" {
		t.Error("Expected non-empty ID")
	}
	if msg.CreatedAt.IsZero() {
		t.Error("Expected non-zero created time")
	}
}

func TestNewMessageUniqueIDs(t *testing.T) {
	a := NewMessage(RoleUser, "a")
	b := NewMessage(RoleUser, "b")
	if a.ID == b.ID {
		t.Fatalf("expected distinct IDs, both were %q", a.ID)
	}
}

func TestCloneIsDeep(t *testing.T) {
	msg := NewMessage(RoleAssistant, "answer")
	msg.Metadata["k"] = "v"

	cloned := Clone(msg)
	cloned.Metadata["k"] = "changed"
	cloned.Content = "other"

	if msg.Metadata["k"] != "v" {
		t.Errorf("metadata leaked through clone: %v", msg.Metadata["k"])
	}
	if msg.Content != "answer" {
		t.Errorf("content leaked through clone: %q", msg.Content)
	}
	if Clone(nil) != nil {
		t.Error("Clone(nil) should be nil")
	}
}

func TestSplitSystem(t *testing.T) {
	msgs := []*Message{
		NewMessage(RoleSystem, "be terse"),
		NewMessage(RoleUser, "question"),
		nil,
		NewMessage(RoleSystem, "reply in JSON"),
	}

	system, rest := SplitSystem(msgs)
	if system != "be terse\nreply in JSON" {
		t.Errorf("unexpected system prompt %q", system)
	}
	if len(rest) != 1 || rest[0].Content != "question" {
		t.Fatalf("unexpected conversation turns %#v", rest)
	}
}
