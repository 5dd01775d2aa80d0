package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/devrev/pairdb/offload-engine/internal/model"
	"github.com/devrev/pairdb/offload-engine/internal/registry"
	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"
)

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// GossipHealthSource propagates this node's resource view over the
// cluster gossip layer and serves as the registry's health source for
// peers. Node metadata carries the TargetNode description; join and
// leave events keep the registry's membership current.
type GossipHealthSource struct {
	config     *GossipConfig
	memberlist *memberlist.Memberlist
	registry   *registry.Registry
	logger     *zap.Logger

	mu   sync.RWMutex
	self model.TargetNode
}

// NewGossipHealthSource creates the gossip layer and joins the seeds
func NewGossipHealthSource(
	cfg *GossipConfig,
	self model.TargetNode,
	reg *registry.Registry,
	logger *zap.Logger,
) (*GossipHealthSource, error) {
	gs := &GossipHealthSource{
		config:   cfg,
		registry: reg,
		logger:   logger,
		self:     self,
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = self.NodeID
	mlConfig.BindPort = cfg.BindPort
	mlConfig.GossipInterval = cfg.GossipInterval
	mlConfig.ProbeTimeout = cfg.ProbeTimeout
	mlConfig.ProbeInterval = cfg.ProbeInterval
	mlConfig.Delegate = gs
	mlConfig.Events = &gossipEventDelegate{source: gs}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	gs.memberlist = ml

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
	}

	return gs, nil
}

// Snapshot implements registry.HealthSource: the current resource and
// health view of every live peer.
func (s *GossipHealthSource) Snapshot(ctx context.Context) ([]model.TargetNode, error) {
	if s.memberlist == nil {
		return nil, fmt.Errorf("gossip layer not running")
	}

	members := s.memberlist.Members()
	nodes := make([]model.TargetNode, 0, len(members))
	for _, member := range members {
		if member.Name == s.selfID() {
			continue
		}
		node, err := decodeNodeMeta(member.Meta)
		if err != nil {
			s.logger.Warn("Skipping peer with unreadable metadata",
				zap.String("peer", member.Name),
				zap.Error(err))
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// UpdateSelf refreshes this node's advertised resource view
func (s *GossipHealthSource) UpdateSelf(self model.TargetNode) {
	s.mu.Lock()
	s.self = self
	s.mu.Unlock()

	if s.memberlist != nil {
		// Push the new metadata out on the next gossip round
		if err := s.memberlist.UpdateNode(s.config.ProbeTimeout); err != nil {
			s.logger.Warn("Failed to broadcast node update", zap.Error(err))
		}
	}
}

func (s *GossipHealthSource) selfID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self.NodeID
}

// Shutdown leaves the cluster
func (s *GossipHealthSource) Shutdown() error {
	if s.memberlist == nil {
		return nil
	}
	return s.memberlist.Shutdown()
}

// NodeMeta implements memberlist.Delegate
func (s *GossipHealthSource) NodeMeta(limit int) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, _ := json.Marshal(s.self)
	if len(data) > limit {
		s.logger.Warn("Node metadata truncated", zap.Int("limit", limit))
		return data[:limit]
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (s *GossipHealthSource) NotifyMsg(data []byte) {
	var node model.TargetNode
	if err := json.Unmarshal(data, &node); err != nil {
		s.logger.Warn("Failed to unmarshal gossip message", zap.Error(err))
		return
	}
	s.registry.UpsertNode(node)
}

// GetBroadcasts implements memberlist.Delegate
func (s *GossipHealthSource) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (s *GossipHealthSource) LocalState(join bool) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, _ := json.Marshal(s.self)
	return data
}

// MergeRemoteState implements memberlist.Delegate
func (s *GossipHealthSource) MergeRemoteState(buf []byte, join bool) {
	var node model.TargetNode
	if err := json.Unmarshal(buf, &node); err != nil {
		return
	}
	if node.NodeID != "" && node.NodeID != s.selfID() {
		s.registry.UpsertNode(node)
	}
}

// decodeNodeMeta parses a peer's advertised TargetNode description
func decodeNodeMeta(meta []byte) (model.TargetNode, error) {
	var node model.TargetNode
	if len(meta) == 0 {
		return node, fmt.Errorf("empty metadata")
	}
	if err := json.Unmarshal(meta, &node); err != nil {
		return node, err
	}
	if node.NodeID == "" {
		return node, fmt.Errorf("metadata missing node id")
	}
	return node, nil
}

// gossipEventDelegate folds membership events into the registry
type gossipEventDelegate struct {
	source *GossipHealthSource
}

// NotifyJoin is called when a node joins the cluster
func (d *gossipEventDelegate) NotifyJoin(node *memberlist.Node) {
	if node.Name == d.source.selfID() {
		return
	}

	d.source.logger.Info("Node joined cluster", zap.String("node_id", node.Name))

	if parsed, err := decodeNodeMeta(node.Meta); err == nil {
		d.source.registry.UpsertNode(parsed)
	}
}

// NotifyLeave is called when a node leaves or is declared dead
func (d *gossipEventDelegate) NotifyLeave(node *memberlist.Node) {
	if node.Name == d.source.selfID() {
		return
	}

	d.source.logger.Info("Node left cluster", zap.String("node_id", node.Name))
	d.source.registry.RemoveNode(node.Name)
}

// NotifyUpdate is called when a node's metadata changes
func (d *gossipEventDelegate) NotifyUpdate(node *memberlist.Node) {
	if node.Name == d.source.selfID() {
		return
	}

	if parsed, err := decodeNodeMeta(node.Meta); err == nil {
		d.source.registry.UpsertNode(parsed)
	}
}
