// Package registry locates trapper endpoints. A Sender configured with a
// loadbalance.Resolver asks the registry for the instances of a service and
// lets a balancer pick one per flush.
package registry

import (
	"context"
	"sync"
)

// ServiceInstance is one trapper endpoint (a server or a proxy).
type ServiceInstance struct {
	Addr    string `json:"addr"` // host:port
	Weight  int    `json:"weight"`
	Version string `json:"version,omitempty"`
}

type Registry interface {
	Register(ctx context.Context, service string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, service string, addr string) error
	Discover(ctx context.Context, service string) ([]ServiceInstance, error)
	Watch(ctx context.Context, service string) <-chan []ServiceInstance
}

// Static is an in-memory Registry for fixed endpoint lists. TTLs are
// ignored and Watch emits the current list once.
type Static struct {
	mu        sync.RWMutex
	instances map[string][]ServiceInstance
}

func NewStatic() *Static {
	return &Static{instances: make(map[string][]ServiceInstance)}
}

func (s *Static) Register(_ context.Context, service string, instance ServiceInstance, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.instances[service]
	for i := range list {
		if list[i].Addr == instance.Addr {
			list[i] = instance
			return nil
		}
	}
	s.instances[service] = append(list, instance)
	return nil
}

func (s *Static) Deregister(_ context.Context, service string, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.instances[service]
	for i, inst := range list {
		if inst.Addr == addr {
			s.instances[service] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Static) Discover(_ context.Context, service string) ([]ServiceInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ServiceInstance(nil), s.instances[service]...), nil
}

func (s *Static) Watch(ctx context.Context, service string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	instances, _ := s.Discover(ctx, service)
	ch <- instances
	close(ch)
	return ch
}
