package coordinator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forgeview/orchestrator/internal/metrics"
	"github.com/forgeview/orchestrator/pkg/types"
)

// Canvas layout constants. Children fan out to the right of their origin.
const (
	rootX   = 120.0
	rootY   = 240.0
	childDX = 260.0
	childDY = 130.0
)

// Spawn creates an agent node, positions it relative to originID when
// supplied, and adds a manager→agent edge when the origin is a manager
// node. task may be nil for non-producer nodes.
func (c *Coordinator) Spawn(nodeType types.NodeType, task *types.TaskSpec, originID string) *types.AgentNode {
	c.mu.Lock()

	node := &types.AgentNode{
		ID:          uuid.New().String(),
		Type:        nodeType,
		Name:        nodeName(nodeType),
		Status:      types.NodeStatusIdle,
		LastUpdated: time.Now().UTC(),
	}
	if task != nil {
		node.Description = task.Description
	}

	origin := c.nodes[originID]
	switch {
	case origin != nil:
		siblings := c.childCountLocked(originID)
		node.Position = types.Position{
			X: origin.Position.X + childDX,
			Y: origin.Position.Y + childDY*float64(siblings) - childDY*1.5,
		}
	default:
		node.Position = types.Position{
			X: rootX,
			Y: rootY + childDY*float64(len(c.nodeOrder)),
		}
	}

	c.nodes[node.ID] = node
	c.nodeOrder = append(c.nodeOrder, node.ID)

	var edge *types.Edge
	if origin != nil && origin.Type == types.NodeTypeManager {
		edge = &types.Edge{
			ID:     fmt.Sprintf("edge-%s", uuid.New().String()[:8]),
			Source: originID,
			Target: node.ID,
		}
		c.edges = append(c.edges, edge)
	}
	snapshot := *node
	c.mu.Unlock()

	metrics.NodesActive.Set(float64(len(c.nodeOrder)))
	c.emitEvent(types.EventInput{
		Type:   types.EventTypeNodeUpdated,
		NodeID: snapshot.ID,
		Data: types.NodeUpdatedEvent{
			Status:      snapshot.Status,
			Progress:    snapshot.Progress,
			Description: snapshot.Description,
		},
	})
	if edge != nil {
		c.emitEvent(types.EventInput{
			Type:   types.EventTypeEdgeCreated,
			NodeID: snapshot.ID,
			Data:   edge,
		})
	}
	c.logger.Debug("spawned node",
		slog.String("node_id", snapshot.ID),
		slog.String("type", string(nodeType)),
		slog.String("origin", originID),
	)
	return &snapshot
}

// UpdateNodeStatus applies a producer progress callback to its node.
func (c *Coordinator) UpdateNodeStatus(id string, status types.NodeStatus, progress int, description string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	c.mu.Lock()
	node, ok := c.nodes[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("update node %s: %w", id, ErrNodeNotFound)
	}
	node.Status = status
	node.Progress = progress
	if description != "" {
		node.Description = description
	}
	node.LastUpdated = time.Now().UTC()
	snapshot := *node
	c.mu.Unlock()

	c.emitEvent(types.EventInput{
		Type:   types.EventTypeNodeUpdated,
		NodeID: id,
		Data: types.NodeUpdatedEvent{
			Status:      snapshot.Status,
			Progress:    snapshot.Progress,
			Description: snapshot.Description,
		},
	})
	return nil
}

// Node returns a copy of the node with the given id.
func (c *Coordinator) Node(id string) (*types.AgentNode, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	node, ok := c.nodes[id]
	if !ok {
		return nil, fmt.Errorf("get node %s: %w", id, ErrNodeNotFound)
	}
	snapshot := *node
	return &snapshot, nil
}

// Nodes returns copies of all nodes in spawn order.
func (c *Coordinator) Nodes() []*types.AgentNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.AgentNode, 0, len(c.nodeOrder))
	for _, id := range c.nodeOrder {
		snapshot := *c.nodes[id]
		out = append(out, &snapshot)
	}
	return out
}

// Edges returns copies of all edges in creation order.
func (c *Coordinator) Edges() []*types.Edge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.Edge, 0, len(c.edges))
	for _, e := range c.edges {
		snapshot := *e
		out = append(out, &snapshot)
	}
	return out
}

// bumpEdgeLocked increments traffic counters on the edge joining from and
// to, in either direction. Caller holds c.mu.
func (c *Coordinator) bumpEdgeLocked(from, to string) {
	for _, e := range c.edges {
		if (e.Source == from && e.Target == to) || (e.Source == to && e.Target == from) {
			e.MessageCount++
			e.Active = true
			return
		}
	}
}

// childCountLocked counts edges originating at originID. Caller holds c.mu.
func (c *Coordinator) childCountLocked(originID string) int {
	n := 0
	for _, e := range c.edges {
		if e.Source == originID {
			n++
		}
	}
	return n
}

func nodeName(t types.NodeType) string {
	switch t {
	case types.NodeTypeManager:
		return "Build Manager"
	case types.NodeTypeProducerUI:
		return "UI Producer"
	case types.NodeTypeProducerBackend:
		return "Backend Producer"
	case types.NodeTypeSandbox:
		return "Sandbox"
	default:
		return string(t)
	}
}
