package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, err := Open(filepath.Join(t.TempDir(), "conversations.bolt"), withClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, &now
}

func TestSaveAssignsIncreasingIDs(t *testing.T) {
	s, now := newTestStore(t)

	var last uint64
	for i := 0; i < 3; i++ {
		*now = now.Add(time.Minute)
		res, err := s.SaveConversation(Conversation{
			Platform: "chatgpt",
			Prompt:   fmt.Sprintf("prompt %d", i),
			Response: fmt.Sprintf("response %d", i),
			URL:      "https://chatgpt.com/c/1",
		})
		if err != nil {
			t.Fatalf("save failed: %v", err)
		}
		if res.Duplicate {
			t.Fatalf("record %d wrongly marked duplicate", i)
		}
		if res.ID <= last {
			t.Fatalf("ids must increase: got %d after %d", res.ID, last)
		}
		last = res.ID
	}
}

func TestSaveDedupSameURLAndContent(t *testing.T) {
	s, now := newTestStore(t)

	first, err := s.SaveConversation(Conversation{Prompt: "p", Response: "r", URL: "https://x/c/1"})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	// Well past the content window; the URL rule has no window.
	*now = now.Add(time.Hour)
	second, err := s.SaveConversation(Conversation{Prompt: "p", Response: "r", URL: "https://x/c/1"})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if !second.Duplicate || second.ID != first.ID {
		t.Fatalf("expected duplicate of %d, got %+v", first.ID, second)
	}
	count, _ := s.GetTotalConversationCount("")
	if count != 1 {
		t.Errorf("expected 1 stored record, got %d", count)
	}
}

func TestSaveSameURLDifferentContentIsNew(t *testing.T) {
	s, now := newTestStore(t)

	first, _ := s.SaveConversation(Conversation{Prompt: "p", Response: "r", URL: "https://x/c/1"})
	*now = now.Add(time.Second)
	second, err := s.SaveConversation(Conversation{Prompt: "p", Response: "r with a new turn", URL: "https://x/c/1"})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if second.Duplicate || second.ID == first.ID {
		t.Fatalf("revisited page with new content must insert, got %+v", second)
	}
}

func TestSaveDedupSameContentDifferentURLWithinWindow(t *testing.T) {
	s, now := newTestStore(t)

	first, _ := s.SaveConversation(Conversation{Prompt: "p", Response: "r", URL: "https://x/c/1"})
	*now = now.Add(2 * time.Second)
	second, err := s.SaveConversation(Conversation{Prompt: "p", Response: "r", URL: "https://x/c/other"})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if !second.Duplicate || second.ID != first.ID {
		t.Fatalf("expected content duplicate within window, got %+v", second)
	}
}

func TestSaveSameContentDifferentURLOutsideWindow(t *testing.T) {
	s, now := newTestStore(t)

	s.dedupWindow = 5 * time.Second
	if _, err := s.SaveConversation(Conversation{Prompt: "p", Response: "r", URL: "https://x/c/1"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	*now = now.Add(time.Minute)
	second, err := s.SaveConversation(Conversation{Prompt: "p", Response: "r", URL: "https://x/c/other"})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if second.Duplicate {
		t.Fatal("content match outside the window under a new URL must insert")
	}
}

func TestPagination(t *testing.T) {
	s, now := newTestStore(t)

	for i := 0; i < 10; i++ {
		*now = now.Add(time.Minute)
		if _, err := s.SaveConversation(Conversation{
			Prompt:   fmt.Sprintf("question %d", i),
			Response: fmt.Sprintf("answer %d", i),
			URL:      fmt.Sprintf("https://x/c/%d", i),
		}); err != nil {
			t.Fatalf("save %d failed: %v", i, err)
		}
	}

	page1, err := s.GetConversations(Query{Page: 1, Limit: 5})
	if err != nil {
		t.Fatalf("page 1 failed: %v", err)
	}
	if len(page1.Conversations) != 5 || !page1.HasMore {
		t.Fatalf("expected 5 records with hasMore, got %d hasMore=%v", len(page1.Conversations), page1.HasMore)
	}
	if page1.Conversations[0].Prompt != "question 9" {
		t.Errorf("expected most recent first, got %q", page1.Conversations[0].Prompt)
	}

	page2, err := s.GetConversations(Query{Page: 2, Limit: 5})
	if err != nil {
		t.Fatalf("page 2 failed: %v", err)
	}
	if len(page2.Conversations) != 5 || page2.HasMore {
		t.Fatalf("expected final 5 records without hasMore, got %d hasMore=%v", len(page2.Conversations), page2.HasMore)
	}
	if page2.Conversations[4].Prompt != "question 0" {
		t.Errorf("expected oldest record last, got %q", page2.Conversations[4].Prompt)
	}
}

func TestSearchFiltersListAndCount(t *testing.T) {
	s, now := newTestStore(t)

	seed := []Conversation{
		{Prompt: "How do Goroutines work?", Response: "they are cheap", URL: "https://x/1"},
		{Prompt: "what is rust", Response: "a systems language", URL: "https://x/2"},
		{Prompt: "tell me a joke", Response: "GOROUTINE walks into a bar", URL: "https://x/3"},
	}
	for _, c := range seed {
		*now = now.Add(time.Minute)
		if _, err := s.SaveConversation(c); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	page, err := s.GetConversations(Query{Page: 1, Limit: 10, Search: "goroutine"})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(page.Conversations) != 2 {
		t.Fatalf("expected 2 case-insensitive matches, got %d", len(page.Conversations))
	}
	count, err := s.GetTotalConversationCount("goroutine")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count 2, got %d", count)
	}
}

func TestDeleteConversation(t *testing.T) {
	s, now := newTestStore(t)

	res, _ := s.SaveConversation(Conversation{Prompt: "p", Response: "r", URL: "https://x/1"})
	*now = now.Add(time.Minute)
	if _, err := s.SaveConversation(Conversation{Prompt: "p2", Response: "r2", URL: "https://x/2"}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if err := s.DeleteConversation(res.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	all, err := s.GetAllConversations()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for _, c := range all {
		if c.ID == res.ID {
			t.Error("deleted record still listed")
		}
	}
	count, _ := s.GetTotalConversationCount("")
	if count != 1 {
		t.Errorf("expected count to drop to 1, got %d", count)
	}

	if err = s.DeleteConversation(9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing id, got %v", err)
	}
}

func TestTitleDefaultsToPromptPrefix(t *testing.T) {
	s, _ := newTestStore(t)

	long := "0123456789012345678901234567890123456789012345678901234567890"
	res, err := s.SaveConversation(Conversation{Prompt: long, Response: "r", URL: "https://x/1"})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	all, _ := s.GetAllConversations()
	if len(all) != 1 || all[0].ID != res.ID {
		t.Fatalf("unexpected records: %+v", all)
	}
	if got := all[0].Title; len(got) != 50 || got != long[:50] {
		t.Errorf("expected 50-byte prompt prefix title, got %q", got)
	}
}
