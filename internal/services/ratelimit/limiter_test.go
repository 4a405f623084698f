package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewLimiter(client)
}

func TestAllowWithinCapacity(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < int(defaultParams[CategorySignup].Capacity); i++ {
		res, err := l.Allow(ctx, "agent:alice", CategorySignup)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("attempt %d: expected allowed, got denied", i)
		}
	}
}

func TestDenyOverCapacity(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	cap := int(defaultParams[CategorySignup].Capacity)

	for i := 0; i < cap; i++ {
		if _, err := l.Allow(ctx, "agent:bob", CategorySignup); err != nil {
			t.Fatalf("Allow: %v", err)
		}
	}

	res, err := l.Allow(ctx, "agent:bob", CategorySignup)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected denial once capacity is exhausted")
	}
	if res.RetryAfter <= 0 {
		t.Fatal("expected a positive retry-after on denial")
	}
}

func TestPerKeyIsolation(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	cap := int(defaultParams[CategorySignup].Capacity)

	for i := 0; i < cap; i++ {
		if _, err := l.Allow(ctx, "agent:carol", CategorySignup); err != nil {
			t.Fatalf("Allow: %v", err)
		}
	}

	res, err := l.Allow(ctx, "agent:dave", CategorySignup)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !res.Allowed {
		t.Fatal("exhausting one key's bucket must not affect another key")
	}
}

func TestKeyForRequest(t *testing.T) {
	cases := []struct {
		agentID, forwardedFor, remoteAddr, want string
	}{
		{"agent-123", "", "1.2.3.4:5678", "agent:agent-123"},
		{"", "9.9.9.9, 10.0.0.1", "1.2.3.4:5678", "ip:9.9.9.9"},
		{"", "", "1.2.3.4:5678", "ip:1.2.3.4:5678"},
	}
	for _, c := range cases {
		got := KeyForRequest(c.agentID, c.forwardedFor, c.remoteAddr)
		if got != c.want {
			t.Errorf("KeyForRequest(%q,%q,%q) = %q, want %q", c.agentID, c.forwardedFor, c.remoteAddr, got, c.want)
		}
	}
}
