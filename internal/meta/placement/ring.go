// Package placement implements the consistent-hash ring the meta
// controller uses to pick primary and replica nodes for shards and
// journal segments. Each physical node gets a fixed number of virtual
// nodes on the ring so that adding or removing a node only reshuffles a
// small, bounded fraction of existing assignments.
package placement

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"
)

const (
	// DefaultVirtualNodesPerNode is how many ring points each physical
	// node owns.
	DefaultVirtualNodesPerNode = 256
)

// Ring is a consistent-hash ring over cluster node IDs.
type Ring struct {
	mu sync.RWMutex

	virtualNodesPerNode int
	virtualNodes        map[uint64]uint64 // ring hash -> node ID
	sortedHashes        []uint64
	nodes               map[uint64]struct{}
	version             uint64
}

// New creates an empty ring.
func New() *Ring {
	return NewWithVirtualNodeCount(DefaultVirtualNodesPerNode)
}

// NewWithVirtualNodeCount creates a ring with a custom virtual-node density,
// mainly useful for tests that want a small, easy-to-reason-about ring.
func NewWithVirtualNodeCount(n int) *Ring {
	return &Ring{
		virtualNodesPerNode: n,
		virtualNodes:        make(map[uint64]uint64),
		sortedHashes:        []uint64{},
		nodes:               make(map[uint64]struct{}),
	}
}

// AddNode adds a physical node's virtual points to the ring.
func (r *Ring) AddNode(nodeID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[nodeID]; exists {
		return
	}
	r.nodes[nodeID] = struct{}{}

	for i := 0; i < r.virtualNodesPerNode; i++ {
		hash := hashVirtualNode(nodeID, i)
		r.virtualNodes[hash] = nodeID
	}
	r.rebuildSortedHashes()
	r.version++
}

// RemoveNode removes a physical node and all of its virtual points.
func (r *Ring) RemoveNode(nodeID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[nodeID]; !exists {
		return
	}
	delete(r.nodes, nodeID)

	for i := 0; i < r.virtualNodesPerNode; i++ {
		hash := hashVirtualNode(nodeID, i)
		delete(r.virtualNodes, hash)
	}
	r.rebuildSortedHashes()
	r.version++
}

// HashKey hashes an arbitrary routing key (topic name, shard key, segment
// key) onto the ring's 64-bit hash space with MurmurHash3.
func HashKey(key string) uint64 {
	h := murmur3.New64()
	h.Write([]byte(key))
	return h.Sum64()
}

// NodeForHash walks the ring clockwise from hash and returns the first
// node encountered.
func (r *Ring) NodeForHash(hash uint64) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodeForHashLocked(hash)
}

func (r *Ring) nodeForHashLocked(hash uint64) (uint64, bool) {
	if len(r.sortedHashes) == 0 {
		return 0, false
	}
	idx := sort.Search(len(r.sortedHashes), func(i int) bool {
		return r.sortedHashes[i] >= hash
	})
	if idx == len(r.sortedHashes) {
		idx = 0
	}
	return r.virtualNodes[r.sortedHashes[idx]], true
}

// Place deterministically chooses replicaCount distinct physical nodes
// for key by walking the ring clockwise from HashKey(key), skipping nodes
// already chosen. The first entry is the primary; the rest are replicas.
// If the ring has fewer distinct nodes than replicaCount, all known nodes
// are returned.
func (r *Ring) Place(key string, replicaCount int) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.sortedHashes) == 0 || replicaCount <= 0 {
		return nil
	}

	hash := HashKey(key)
	start := sort.Search(len(r.sortedHashes), func(i int) bool {
		return r.sortedHashes[i] >= hash
	})

	seen := make(map[uint64]struct{}, replicaCount)
	var result []uint64

	for i := 0; i < len(r.sortedHashes) && len(result) < replicaCount; i++ {
		idx := (start + i) % len(r.sortedHashes)
		nodeID := r.virtualNodes[r.sortedHashes[idx]]
		if _, dup := seen[nodeID]; dup {
			continue
		}
		seen[nodeID] = struct{}{}
		result = append(result, nodeID)
	}

	return result
}

// Nodes returns the distinct physical node IDs currently on the ring,
// sorted ascending.
func (r *Ring) Nodes() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]uint64, 0, len(r.nodes))
	for id := range r.nodes {
		nodes = append(nodes, id)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	return nodes
}

// Version returns a monotonically increasing counter bumped on every
// membership change, used to detect whether a cached placement decision
// is stale.
func (r *Ring) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Clone returns a deep, independently-lockable copy of the ring.
func (r *Ring) Clone() *Ring {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := &Ring{
		virtualNodesPerNode: r.virtualNodesPerNode,
		virtualNodes:        make(map[uint64]uint64, len(r.virtualNodes)),
		sortedHashes:        make([]uint64, len(r.sortedHashes)),
		nodes:               make(map[uint64]struct{}, len(r.nodes)),
		version:             r.version,
	}
	for k, v := range r.virtualNodes {
		clone.virtualNodes[k] = v
	}
	copy(clone.sortedHashes, r.sortedHashes)
	for k := range r.nodes {
		clone.nodes[k] = struct{}{}
	}
	return clone
}

func (r *Ring) rebuildSortedHashes() {
	r.sortedHashes = make([]uint64, 0, len(r.virtualNodes))
	for hash := range r.virtualNodes {
		r.sortedHashes = append(r.sortedHashes, hash)
	}
	sort.Slice(r.sortedHashes, func(i, j int) bool { return r.sortedHashes[i] < r.sortedHashes[j] })
}

func hashVirtualNode(nodeID uint64, virtualIndex int) uint64 {
	h := murmur3.New64()
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[0:8], nodeID)
	binary.BigEndian.PutUint32(buf[8:12], uint32(virtualIndex))
	h.Write(buf[:])
	return h.Sum64()
}
