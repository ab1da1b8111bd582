package domain

import "testing"

func TestRecentMessagesKeepsNewest(t *testing.T) {
	msgs := make([]Message, 0, 14)
	for i := 0; i < 14; i++ {
		msgs = append(msgs, Message{Role: RoleUser, Content: string(rune('a' + i))})
	}

	got := RecentMessages(msgs, 10)
	if len(got) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(got))
	}
	if got[0].Content != "e" || got[9].Content != "n" {
		t.Errorf("expected e..n, got %s..%s", got[0].Content, got[9].Content)
	}

	got[0].Content = "changed"
	if msgs[4].Content != "e" {
		t.Error("RecentMessages must not alias the input slice")
	}
}

func TestRecentMessagesShortHistory(t *testing.T) {
	msgs := []Message{{Role: RoleUser, Content: "hi"}}
	if got := RecentMessages(msgs, 10); len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got := RecentMessages(msgs, 0); got != nil {
		t.Fatalf("expected nil for n=0, got %v", got)
	}
}
