// Package coordinator implements the in-process message bus and build graph
// registry. All producer/sandbox communication flows through a Coordinator;
// nothing else holds shared mutable state.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgeview/orchestrator/internal/history"
	"github.com/forgeview/orchestrator/internal/metrics"
	"github.com/forgeview/orchestrator/pkg/types"
)

// ErrNodeNotFound is returned when an operation references an unknown node.
var ErrNodeNotFound = errors.New("node not found")

// deliveryPlaceholder is the recipient used for file deliveries sent before
// a sandbox has registered. Buffered entries are re-addressed on drain.
const deliveryPlaceholder = "sandbox"

// SubscriberFunc receives messages delivered on the bus. Callbacks run
// synchronously on the sender's goroutine; a panic is recovered and logged
// without stopping delivery to remaining subscribers.
type SubscriberFunc func(msg types.Message)

type subscriber struct {
	id int
	fn SubscriberFunc
}

// Coordinator owns the agent node graph, the append-only message history,
// per-recipient subscriber lists and the pending delivery buffer. A single
// mutex guards all state; subscriber callbacks are invoked outside it so
// they may re-enter the bus.
type Coordinator struct {
	mu          sync.RWMutex
	nodes       map[string]*types.AgentNode
	nodeOrder   []string
	edges       []*types.Edge
	messages    []types.Message
	subscribers map[string][]subscriber
	nextSubID   int
	pending     []types.PendingDelivery
	sandboxID   string
	generation  uint64

	store  history.Store
	logger *slog.Logger
}

// New creates an empty Coordinator. Display events are mirrored into store.
func New(store history.Store, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		nodes:       make(map[string]*types.AgentNode),
		subscribers: make(map[string][]subscriber),
		store:       store,
		logger:      logger,
	}
}

// Subscribe registers fn for messages addressed to agentID (or to every
// message when agentID is types.RecipientAll). The returned function removes
// the subscription and is safe to call more than once.
func (c *Coordinator) Subscribe(agentID string, fn SubscriberFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := subscriber{id: c.nextSubID, fn: fn}
	c.nextSubID++
	c.subscribers[agentID] = append(c.subscribers[agentID], sub)

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.subscribers[agentID]
		for i := range subs {
			if subs[i].id == sub.id {
				c.subscribers[agentID] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SendMessage stamps, records and synchronously delivers msg. Delivery
// order is: subscribers for msg.To in registration order, then wildcard
// subscribers in registration order. The call returns only after every
// callback has run (or panicked and been recovered). File deliveries sent
// while no sandbox is registered are buffered instead of dropped.
func (c *Coordinator) SendMessage(msg types.Message) (types.Message, error) {
	if err := msg.Validate(); err != nil {
		return types.Message{}, err
	}

	c.mu.Lock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	c.messages = append(c.messages, msg)
	c.bumpEdgeLocked(msg.From, msg.To)

	buffered := false
	if msg.Kind == types.MessageKindFileDelivery && c.sandboxID == "" {
		c.pending = append(c.pending, types.PendingDelivery{
			FromAgentID: msg.From,
			FilePath:    msg.Delivery.FilePath,
			FileContent: msg.Delivery.FileContent,
			QueuedAt:    msg.Timestamp,
		})
		buffered = true
		metrics.PendingDeliveries.Set(float64(len(c.pending)))
	}

	targets := append([]subscriber(nil), c.subscribers[msg.To]...)
	if msg.To != types.RecipientAll {
		targets = append(targets, c.subscribers[types.RecipientAll]...)
	}
	c.mu.Unlock()

	metrics.MessagesTotal.WithLabelValues(string(msg.Kind)).Inc()
	c.emitEvent(types.EventInput{
		Type:   types.EventTypeMessageSent,
		NodeID: msg.From,
		Data: types.MessageSentEvent{
			MessageID: msg.ID,
			From:      msg.From,
			To:        msg.To,
			Kind:      msg.Kind,
		},
	})
	if buffered {
		c.logger.Debug("file delivery buffered, no sandbox registered",
			slog.String("from", msg.From),
			slog.String("path", msg.Delivery.FilePath),
		)
	}

	for _, sub := range targets {
		c.invoke(sub, msg)
	}
	return msg, nil
}

// invoke runs one subscriber callback, recovering panics so a failing
// subscriber cannot stop delivery to the rest.
func (c *Coordinator) invoke(sub subscriber, msg types.Message) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SubscriberFailures.Inc()
			c.logger.Error("subscriber panicked during delivery",
				slog.String("message_id", msg.ID),
				slog.String("to", msg.To),
				slog.Any("panic", r),
			)
		}
	}()
	sub.fn(msg)
}

// RegisterSandbox designates id as the single active delivery target and
// drains the pending buffer exactly once, re-sending each entry in original
// send order. Registering again with an empty buffer is a no-op.
func (c *Coordinator) RegisterSandbox(id string) {
	c.mu.Lock()
	c.sandboxID = id
	drained := c.pending
	c.pending = nil
	c.mu.Unlock()

	metrics.PendingDeliveries.Set(0)
	if len(drained) == 0 {
		return
	}

	c.logger.Info("replaying buffered deliveries to sandbox",
		slog.String("sandbox_id", id),
		slog.Int("count", len(drained)),
	)
	for _, entry := range drained {
		if _, err := c.SendMessage(types.DeliveryMessage(entry.FromAgentID, id, entry.FilePath, entry.FileContent)); err != nil {
			c.logger.Error("replay delivery failed",
				slog.String("path", entry.FilePath),
				slog.String("error", err.Error()),
			)
		}
	}
}

// DeliveryTarget returns the recipient producers should address file
// deliveries to: the registered sandbox id, or a placeholder that routes
// into the pending buffer until one registers.
func (c *Coordinator) DeliveryTarget() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sandboxID != "" {
		return c.sandboxID
	}
	return deliveryPlaceholder
}

// SandboxID returns the registered sandbox id, or "" when none.
func (c *Coordinator) SandboxID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sandboxID
}

// ResetAll atomically clears nodes, edges, history, subscribers and the
// pending buffer, and bumps the generation counter so callbacks scheduled
// before the reset become no-ops.
func (c *Coordinator) ResetAll() {
	c.mu.Lock()
	c.nodes = make(map[string]*types.AgentNode)
	c.nodeOrder = nil
	c.edges = nil
	c.messages = nil
	c.subscribers = make(map[string][]subscriber)
	c.pending = nil
	c.sandboxID = ""
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	metrics.PendingDeliveries.Set(0)
	metrics.NodesActive.Set(0)
	c.emitEvent(types.EventInput{Type: types.EventTypeGraphReset})
	c.logger.Info("coordinator reset", slog.Uint64("generation", gen))
}

// Generation returns the current reset generation. Timer callbacks capture
// it when scheduled and bail out if it has moved.
func (c *Coordinator) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// History returns a copy of the full message history in send order.
func (c *Coordinator) History() []types.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// PendingCount returns the number of buffered, undelivered file deliveries.
func (c *Coordinator) PendingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}

// Emit appends a display event on behalf of a collaborating component,
// typically the sandbox reporting preview and lifecycle changes.
func (c *Coordinator) Emit(input types.EventInput) {
	c.emitEvent(input)
}

// emitEvent mirrors bus activity into the display event store.
func (c *Coordinator) emitEvent(input types.EventInput) {
	if c.store == nil {
		return
	}
	if _, err := c.store.Append(context.Background(), input); err != nil {
		c.logger.Warn("failed to append event",
			slog.String("type", string(input.Type)),
			slog.String("error", err.Error()),
		)
	}
}
