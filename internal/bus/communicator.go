package bus

import (
	"context"
	"time"
)

// Communicator is a per-participant facade over the bus. It owns a
// subscription on the participant's own channel and offers the common
// request, command, event and status flows.
type Communicator struct {
	bus   *Bus
	id    string
	unsub func()
}

// NewCommunicator subscribes handler on id's channel and returns the
// facade. A nil handler still reserves the channel so replies can be
// correlated back.
func NewCommunicator(b *Bus, id string, handler Handler) *Communicator {
	if handler == nil {
		handler = func(context.Context, *Message) error { return nil }
	}
	return &Communicator{
		bus:   b,
		id:    id,
		unsub: b.Subscribe(id, handler),
	}
}

// ID returns the channel this communicator listens on.
func (c *Communicator) ID() string { return c.id }

// RequestPlugin sends an {action, params} request to a plugin channel and
// returns the response content.
func (c *Communicator) RequestPlugin(ctx context.Context, pluginID, action string, params map[string]any, timeout time.Duration) (map[string]any, error) {
	req := NewRequest(c.id, pluginID, map[string]any{
		"action": action,
		"params": params,
	}, PriorityNormal)
	resp, err := c.bus.Request(ctx, req, timeout)
	if err != nil {
		return nil, err
	}
	return resp.Content, nil
}

// SendCommand sends a command to target. With a positive timeout it is sent
// as a request and the correlated reply is returned; with timeout zero it
// is fire-and-forget and returns (nil, nil).
func (c *Communicator) SendCommand(ctx context.Context, target, command string, params map[string]any, timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		cmd := NewCommand(c.id, target, command, params)
		return nil, c.bus.Publish(cmd)
	}
	req := NewRequest(c.id, target, map[string]any{
		"command": command,
		"params":  params,
	}, PriorityNormal)
	return c.bus.Request(ctx, req, timeout)
}

// BroadcastEvent publishes an event on the broadcast channel.
func (c *Communicator) BroadcastEvent(eventType string, payload map[string]any) error {
	return c.bus.Publish(NewEvent(c.id, eventType, payload, PriorityNormal))
}

// SendStatus broadcasts a status update.
func (c *Communicator) SendStatus(status string, details map[string]any) error {
	return c.bus.Publish(NewStatus(c.id, status, details))
}

// Close removes the communicator's subscription.
func (c *Communicator) Close() {
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
}
