package history

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"pdfchat/internal/domain"
)

func msg(role domain.Role, text string) domain.Message {
	return domain.Message{ID: text, Role: role, Text: text, CreatedAt: time.Unix(1700000000, 0).UTC()}
}

func TestMemoryStoreReturnsSameHistory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, 0, nil)
	defer s.Close()

	a, _ := s.GetOrCreate(ctx, "s1")
	b, _ := s.GetOrCreate(ctx, "s1")
	if a != b {
		t.Fatal("expected the same history for the same session")
	}
	if err := a.Append(ctx, msg(domain.RoleUser, "hi")); err != nil {
		t.Fatal(err)
	}
	if n, _ := b.Len(ctx); n != 1 {
		t.Errorf("expected shared history, len=%d", n)
	}

	other, _ := s.GetOrCreate(ctx, "s2")
	if n, _ := other.Len(ctx); n != 0 {
		t.Errorf("expected isolated session, len=%d", n)
	}
}

func TestMemoryHistoryOrderAndCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, 0, nil)
	h, _ := s.GetOrCreate(ctx, "s")
	_ = h.Append(ctx, msg(domain.RoleUser, "q"), msg(domain.RoleAssistant, "a"))

	got, _ := h.Messages(ctx)
	if len(got) != 2 || got[0].Role != domain.RoleUser || got[1].Text != "a" {
		t.Fatalf("unexpected messages %+v", got)
	}
	got[0].Text = "mutated"
	again, _ := h.Messages(ctx)
	if again[0].Text != "q" {
		t.Error("Messages must return a copy")
	}

	_ = h.Clear(ctx)
	if n, _ := h.Len(ctx); n != 0 {
		t.Errorf("expected empty after clear, got %d", n)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, 0, nil)
	h, _ := s.GetOrCreate(ctx, "s")
	_ = h.Append(ctx, msg(domain.RoleUser, "q"))
	_ = s.Delete(ctx, "s")

	fresh, _ := s.GetOrCreate(ctx, "s")
	if n, _ := fresh.Len(ctx); n != 0 {
		t.Errorf("expected fresh history after delete, len=%d", n)
	}
}

func TestMemoryStoreEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2, 0, nil)
	a, _ := s.GetOrCreate(ctx, "a")
	_ = a.Append(ctx, msg(domain.RoleUser, "keep"))
	b, _ := s.GetOrCreate(ctx, "b")
	_ = b.Append(ctx, msg(domain.RoleUser, "drop"))
	_, _ = s.GetOrCreate(ctx, "a")
	_, _ = s.GetOrCreate(ctx, "c")

	if again, _ := s.GetOrCreate(ctx, "a"); again != a {
		t.Error("recently used session should survive")
	}
	if again, _ := s.GetOrCreate(ctx, "b"); again == b {
		t.Error("least recently used session should be evicted")
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, 20*time.Millisecond, nil)
	h, _ := s.GetOrCreate(ctx, "s")
	_ = h.Append(ctx, msg(domain.RoleUser, "q"))
	time.Sleep(50 * time.Millisecond)

	fresh, _ := s.GetOrCreate(ctx, "s")
	if n, _ := fresh.Len(ctx); n != 0 {
		t.Errorf("expected expired history, len=%d", n)
	}
}

func TestMemoryStoreConcurrentGetOrCreate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, 0, nil)
	var wg sync.WaitGroup
	results := make([]History, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = s.GetOrCreate(ctx, "shared")
		}(i)
	}
	wg.Wait()
	for _, h := range results[1:] {
		if h != results[0] {
			t.Fatal("concurrent callers got different histories")
		}
	}
}

func TestMessageCodec(t *testing.T) {
	in := []domain.Message{msg(domain.RoleUser, "q"), msg(domain.RoleAssistant, "a")}
	values, err := encodeMessages(in)
	if err != nil {
		t.Fatal(err)
	}
	raw := make([]string, len(values))
	for i, v := range values {
		raw[i] = v.(string)
	}
	out, err := decodeMessages(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[1].Role != domain.RoleAssistant || !out[0].CreatedAt.Equal(in[0].CreatedAt) {
		t.Errorf("unexpected decode %+v", out)
	}
	if _, err := decodeMessages([]string{"{"}); err == nil {
		t.Error("expected decode error")
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("PDFCHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PDFCHAT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, RedisConfig{Addr: addr, KeyPrefix: "pdfchat:test:", TTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	defer s.Delete(ctx, "s")

	h, _ := s.GetOrCreate(ctx, "s")
	_ = h.Clear(ctx)
	if err := h.Append(ctx, msg(domain.RoleUser, "q"), msg(domain.RoleAssistant, "a")); err != nil {
		t.Fatal(err)
	}
	again, _ := s.GetOrCreate(ctx, "s")
	got, err := again.Messages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Text != "q" {
		t.Errorf("unexpected messages %+v", got)
	}
}
