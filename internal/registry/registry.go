package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/devrev/pairdb/offload-engine/internal/errors"
	"github.com/devrev/pairdb/offload-engine/internal/model"
	"go.uber.org/zap"
)

// HealthSource supplies the live resource/health view of candidate
// nodes, typically backed by the cluster gossip layer.
type HealthSource interface {
	Snapshot(ctx context.Context) ([]model.TargetNode, error)
}

// SelectionPolicy holds the target admission bounds and ranking
// preferences used by AutoSelect.
type SelectionPolicy struct {
	MinAvailableStorageBytes uint64
	MaxTargetCPUUsage        float64
	MaxTargetMemoryUsage     float64
	PreferLocalRegion        bool
}

// Registry maintains the candidate node set and the current target
// selection. Nodes are kept in an indexed map keyed by node id so that
// removal never leaves a dangling selection reference.
type Registry struct {
	mu           sync.RWMutex
	nodes        map[string]*model.TargetNode
	selected     string
	sourceRegion string
	healthSource HealthSource
	logger       *zap.Logger
}

// NewRegistry creates a node registry. healthSource may be nil when the
// node set is managed externally (tests, static clusters).
func NewRegistry(sourceRegion string, healthSource HealthSource, logger *zap.Logger) *Registry {
	return &Registry{
		nodes:        make(map[string]*model.TargetNode),
		sourceRegion: sourceRegion,
		healthSource: healthSource,
		logger:       logger,
	}
}

// SetHealthSource installs the health source after construction. The
// gossip layer needs the registry first, so the two are wired in two
// steps at startup.
func (r *Registry) SetHealthSource(source HealthSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthSource = source
}

// UpsertNode adds or replaces a candidate node
func (r *Registry) UpsertNode(node model.TargetNode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := node
	r.nodes[node.NodeID] = &n

	r.logger.Debug("Node upserted",
		zap.String("node_id", node.NodeID),
		zap.String("health", string(node.Health)))
}

// RemoveNode drops a node from the candidate set. A selection pointing
// at the removed node is cleared.
func (r *Registry) RemoveNode(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.nodes, nodeID)
	if r.selected == nodeID {
		r.selected = ""
	}

	r.logger.Info("Node removed from registry", zap.String("node_id", nodeID))
}

// ClearNodes drops every candidate node and the current selection
func (r *Registry) ClearNodes() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nodes = make(map[string]*model.TargetNode)
	r.selected = ""
}

// SetNodeHealth updates the health of a single node
func (r *Registry) SetNodeHealth(nodeID string, health model.NodeHealth) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n, ok := r.nodes[nodeID]; ok {
		n.Health = health
		n.LastHealthCheck = time.Now()
	}
}

// GetNode returns a copy of a node by id
func (r *Registry) GetNode(nodeID string) (model.TargetNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return model.TargetNode{}, false
	}
	return *n, true
}

// ListNodes returns copies of all known nodes, ordered by node id
func (r *Registry) ListNodes() []model.TargetNode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]model.TargetNode, 0, len(r.nodes))
	for _, n := range r.nodes {
		nodes = append(nodes, *n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
	return nodes
}

// NodeCount returns the number of known nodes
func (r *Registry) NodeCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Refresh re-derives health and freshness for all known nodes from the
// health source. It fails softly: when the source is unreachable the
// prior node data is left intact and false is returned. Nodes are never
// removed here; membership changes arrive through Upsert/Remove.
func (r *Registry) Refresh(ctx context.Context) bool {
	r.mu.RLock()
	source := r.healthSource
	r.mu.RUnlock()
	if source == nil {
		return false
	}

	snapshot, err := source.Snapshot(ctx)
	if err != nil {
		r.logger.Warn("Node refresh failed, keeping prior data", zap.Error(err))
		return false
	}

	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, update := range snapshot {
		n, ok := r.nodes[update.NodeID]
		if !ok {
			added := update
			added.LastHealthCheck = now
			r.nodes[update.NodeID] = &added
			continue
		}

		n.Host = update.Host
		n.Port = update.Port
		n.ClusterID = update.ClusterID
		n.Region = update.Region
		n.TotalStorageBytes = update.TotalStorageBytes
		n.AvailableStorageBytes = update.AvailableStorageBytes
		n.UsedStorageBytes = update.UsedStorageBytes
		n.CPUUsagePercent = update.CPUUsagePercent
		n.MemoryUsagePercent = update.MemoryUsagePercent
		n.NetworkUtilizationPercent = update.NetworkUtilizationPercent
		n.Health = update.Health
		n.AcceptingOffloads = update.AcceptingOffloads
		n.MaxConcurrentOffloads = update.MaxConcurrentOffloads
		n.LastHealthCheck = now
	}

	r.logger.Debug("Node registry refreshed", zap.Int("nodes", len(snapshot)))
	return true
}

// Select picks an explicit target node. The node must exist and pass
// the admission predicate; on failure any prior selection is unchanged.
func (r *Registry) Select(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return errors.NodeNotFound(nodeID)
	}
	if !n.CanAcceptOffload() {
		return errors.NodeUnavailable(nodeID, unavailableReason(n))
	}

	r.selected = nodeID
	r.logger.Info("Target node selected", zap.String("node_id", nodeID))
	return nil
}

// unavailableReason names the first admission check a node fails
func unavailableReason(n *model.TargetNode) string {
	switch {
	case !n.AcceptingOffloads:
		return "not accepting offloads"
	case n.Health != model.NodeHealthy:
		return "health is " + string(n.Health)
	default:
		return "at max concurrent offloads"
	}
}

// AutoSelect filters nodes by the admission predicate and the policy
// bounds, ranks the survivors and selects the best. Ranking order:
// same region as source (when preferred), descending available
// storage, ascending active offload count, node id lexical order.
func (r *Registry) AutoSelect(policy SelectionPolicy) (model.TargetNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := make([]*model.TargetNode, 0, len(r.nodes))
	for _, n := range r.nodes {
		if !n.CanAcceptOffload() {
			continue
		}
		if n.AvailableStorageBytes < policy.MinAvailableStorageBytes {
			continue
		}
		if n.CPUUsagePercent > policy.MaxTargetCPUUsage {
			continue
		}
		if n.MemoryUsagePercent > policy.MaxTargetMemoryUsage {
			continue
		}
		candidates = append(candidates, n)
	}

	if len(candidates) == 0 {
		return model.TargetNode{}, errors.NoSuitableTarget(len(r.nodes))
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if policy.PreferLocalRegion {
			aLocal := a.Region == r.sourceRegion
			bLocal := b.Region == r.sourceRegion
			if aLocal != bLocal {
				return aLocal
			}
		}
		if a.AvailableStorageBytes != b.AvailableStorageBytes {
			return a.AvailableStorageBytes > b.AvailableStorageBytes
		}
		if a.ActiveOffloadCount != b.ActiveOffloadCount {
			return a.ActiveOffloadCount < b.ActiveOffloadCount
		}
		return a.NodeID < b.NodeID
	})

	best := candidates[0]
	r.selected = best.NodeID

	r.logger.Info("Target node auto-selected",
		zap.String("node_id", best.NodeID),
		zap.String("region", best.Region),
		zap.Uint64("available_storage_bytes", best.AvailableStorageBytes))

	return *best, nil
}

// SelectedNode returns a copy of the current selection, if any
func (r *Registry) SelectedNode() (model.TargetNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.selected == "" {
		return model.TargetNode{}, false
	}
	n, ok := r.nodes[r.selected]
	if !ok {
		return model.TargetNode{}, false
	}
	return *n, true
}

// ClearSelection drops the current selection without touching node data
func (r *Registry) ClearSelection() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = ""
}

// AcquireSlot records an admitted offload against a node
func (r *Registry) AcquireSlot(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n, ok := r.nodes[nodeID]; ok {
		n.ActiveOffloadCount++
	}
}

// ReleaseSlot releases an admitted offload. Successful completions
// stamp the node's last successful offload time.
func (r *Registry) ReleaseSlot(nodeID string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return
	}
	if n.ActiveOffloadCount > 0 {
		n.ActiveOffloadCount--
	}
	if success {
		n.LastSuccessfulOffload = time.Now()
	}
}
