package loadbalance

import (
	"context"
	"fmt"
	"testing"

	"github.com/zbxkit/zbx/registry"
)

var testInstances = []registry.ServiceInstance{
	{Addr: "10.0.0.1:10051", Weight: 10},
	{Addr: "10.0.0.2:10051", Weight: 5},
	{Addr: "10.0.0.3:10051", Weight: 10},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}

	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = inst.Addr
	}
	for i := range testInstances {
		if results[i] != testInstances[i].Addr {
			t.Fatalf("pick %d: got %s, want %s", i, results[i], testInstances[i].Addr)
		}
	}

	inst, _ := b.Pick("", testInstances)
	if inst.Addr != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], inst.Addr)
	}
}

func TestEmptyInstances(t *testing.T) {
	for _, b := range []Balancer{&RoundRobinBalancer{}, &WeightedRandomBalancer{}, NewConsistentHashBalancer()} {
		if _, err := b.Pick("host", nil); err == nil {
			t.Fatalf("%s: expect error for empty instances", b.Name())
		}
	}
}

func TestWeightedRandom(t *testing.T) {
	b := &WeightedRandomBalancer{}

	counts := map[string]int{}
	n := 10000
	for i := 0; i < n; i++ {
		inst, err := b.Pick("", testInstances)
		if err != nil {
			t.Fatal(err)
		}
		counts[inst.Addr]++
	}

	// 10:5:10, so .1 should see about twice as many picks as .2
	ratio := float64(counts["10.0.0.1:10051"]) / float64(counts["10.0.0.2:10051"])
	if ratio < 1.5 || ratio > 2.5 {
		t.Fatalf("weight ratio = %.2f, expect ~2.0", ratio)
	}
}

func TestWeightedRandomZeroWeights(t *testing.T) {
	b := &WeightedRandomBalancer{}
	inst, err := b.Pick("", []registry.ServiceInstance{{Addr: "a"}, {Addr: "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if inst.Addr != "a" && inst.Addr != "b" {
		t.Fatalf("unexpected pick %s", inst.Addr)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	inst1, _ := b.Pick("web-01", testInstances)
	inst2, _ := b.Pick("web-01", testInstances)
	if inst1.Addr != inst2.Addr {
		t.Fatalf("same key mapped to different instances: %s vs %s", inst1.Addr, inst2.Addr)
	}

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		inst, _ := b.Pick(fmt.Sprintf("host-%d", i), testInstances)
		seen[inst.Addr] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different instances, got %d", len(seen))
	}

	// Dropping an instance only moves the keys it owned.
	remaining := testInstances[:2]
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("host-%d", i)
		before, _ := NewConsistentHashBalancer().Pick(key, testInstances)
		after, _ := b.Pick(key, remaining)
		if before.Addr != testInstances[2].Addr && before.Addr != after.Addr {
			t.Fatalf("%s moved from %s to %s", key, before.Addr, after.Addr)
		}
	}
}

func TestNew(t *testing.T) {
	for _, name := range []string{"", "round_robin", "weighted_random", "consistent_hash"} {
		if _, err := New(name); err != nil {
			t.Errorf("New(%q): %v", name, err)
		}
	}
	if _, err := New("fastest"); err == nil {
		t.Error("expect error for unknown strategy")
	}
}

func TestResolver(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewStatic()
	for _, inst := range testInstances {
		reg.Register(ctx, "trapper", inst, 0)
	}

	r := NewResolver(reg, &RoundRobinBalancer{}, "trapper")
	addr, err := r.Resolve(ctx, "web-01")
	if err != nil {
		t.Fatal(err)
	}
	if addr != testInstances[0].Addr {
		t.Fatalf("got %s, want %s", addr, testInstances[0].Addr)
	}

	empty := NewResolver(reg, &RoundRobinBalancer{}, "proxy")
	if _, err := empty.Resolve(ctx, "web-01"); err == nil {
		t.Fatal("expect error when no instance is registered")
	}
}
