package automation

import (
	"context"
	"testing"
	"time"
)

func TestCachedRuleStore_ServesWithinTTL(t *testing.T) {
	next := &fakeRules{
		bots:      []Chatbot{defaultBot()},
		responses: []AutoResponse{{ID: 1, TriggerValue: "menu", Active: true}},
	}
	c := NewCachedRuleStore(next, time.Minute)
	now := testNow
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.ActiveChatbot(ctx); err != nil {
			t.Fatalf("chatbot: %v", err)
		}
		if _, err := c.AutoResponses(ctx, 1); err != nil {
			t.Fatalf("responses: %v", err)
		}
	}
	if next.calls != 2 {
		t.Fatalf("expected 2 backing reads, got %d", next.calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.ActiveChatbot(ctx); err != nil {
		t.Fatalf("chatbot: %v", err)
	}
	if next.calls != 3 {
		t.Fatalf("expired entry not reloaded, calls=%d", next.calls)
	}
}

func TestCachedRuleStore_Invalidate(t *testing.T) {
	f, g := nameFlow()
	next := &fakeRules{flows: []Flow{f}, graphs: map[uint]*FlowGraph{f.ID: g}}
	c := NewCachedRuleStore(next, time.Hour)
	ctx := context.Background()

	if _, err := c.FlowGraph(ctx, f.ID); err != nil {
		t.Fatalf("graph: %v", err)
	}
	next.graphs = map[uint]*FlowGraph{}
	if _, err := c.FlowGraph(ctx, f.ID); err != nil {
		t.Fatal("cached graph should still be served")
	}

	c.Invalidate()
	if _, err := c.FlowGraph(ctx, f.ID); err == nil {
		t.Fatal("invalidated graph still served")
	}
}

func TestCachedRuleStore_DoesNotCacheErrors(t *testing.T) {
	next := &fakeRules{}
	c := NewCachedRuleStore(next, time.Hour)
	ctx := context.Background()

	if _, err := c.ActiveChatbot(ctx); err == nil {
		t.Fatal("expected ErrNoActiveChatbot")
	}
	next.bots = []Chatbot{defaultBot()}
	if b, err := c.ActiveChatbot(ctx); err != nil || b.ID != 1 {
		t.Fatalf("b=%v err=%v", b, err)
	}
}
