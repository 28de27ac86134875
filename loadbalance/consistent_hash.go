package loadbalance

import (
	"fmt"
	"hash/crc32"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/zbxkit/zbx/registry"
)

// ConsistentHashBalancer maps a key to an instance on a hash ring, so the
// same monitored host keeps reaching the same proxy while the instance set
// is unchanged. Each instance owns replicas virtual nodes to even out the
// distribution.
type ConsistentHashBalancer struct {
	mu       sync.Mutex
	replicas int
	members  string                              // Sorted addresses the ring was built from
	ring     []uint32                            // Sorted hash values
	nodes    map[uint32]registry.ServiceInstance // Hash value → instance
}

func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]registry.ServiceInstance),
	}
}

func (b *ConsistentHashBalancer) add(instance registry.ServiceInstance) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", instance.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
	slices.Sort(b.ring)
}

// Pick rebuilds the ring when the instance set changed, then walks clockwise
// from the key's hash to the first virtual node.
func (b *ConsistentHashBalancer) Pick(key string, instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no instances available")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if members := memberKey(instances); members != b.members {
		b.ring = b.ring[:0]
		b.nodes = make(map[uint32]registry.ServiceInstance)
		for _, inst := range instances {
			b.add(inst)
		}
		b.members = members
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}

	inst := b.nodes[b.ring[idx]]
	return &inst, nil
}

func memberKey(instances []registry.ServiceInstance) string {
	addrs := make([]string, len(instances))
	for i, inst := range instances {
		addrs[i] = inst.Addr
	}
	slices.Sort(addrs)
	return strings.Join(addrs, ",")
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
