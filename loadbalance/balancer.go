// Package loadbalance chooses which trapper endpoint receives a batch.
//
// Three strategies are implemented:
//   - RoundRobin:      equal servers, spread batches evenly
//   - WeightedRandom:  servers or proxies of different capacity
//   - ConsistentHash:  keep each monitored host on the same proxy
package loadbalance

import (
	"context"
	"fmt"

	"github.com/zbxkit/zbx/registry"
)

// Balancer picks one instance from the available list. key is the affinity
// key of the batch (the monitored host); strategies without affinity ignore
// it. Implementations must be goroutine-safe.
type Balancer interface {
	Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error)
	Name() string
}

// New returns the balancer registered under name.
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin", "RoundRobin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random", "WeightedRandom":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash", "ConsistentHash":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}

// Resolver adapts a registry and a balancer to trapper.Resolver.
type Resolver struct {
	Registry registry.Registry
	Balancer Balancer
	Service  string
}

func NewResolver(reg registry.Registry, bal Balancer, service string) *Resolver {
	return &Resolver{Registry: reg, Balancer: bal, Service: service}
}

// Resolve returns the address of the instance chosen for key.
func (r *Resolver) Resolve(ctx context.Context, key string) (string, error) {
	instances, err := r.Registry.Discover(ctx, r.Service)
	if err != nil {
		return "", fmt.Errorf("loadbalance: discover %s: %w", r.Service, err)
	}
	inst, err := r.Balancer.Pick(key, instances)
	if err != nil {
		return "", fmt.Errorf("loadbalance: %s: %w", r.Service, err)
	}
	return inst.Addr, nil
}
