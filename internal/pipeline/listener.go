package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nidhogg/overseer/internal/bus"
	"github.com/nidhogg/overseer/internal/store"
)

// Listener bridges the bus to the processor: response messages carrying a
// result payload are pipelined and, when they survive, written to the
// store as normalized records.
type Listener struct {
	processor *Processor
	store     store.Store
	unsub     func()
	logger    *zap.Logger
}

// AttachBus wires the processor to broadcast traffic on b, storing
// surviving payloads in st. Detach the returned listener to stop.
func (p *Processor) AttachBus(b *bus.Bus, st store.Store, logger *zap.Logger) *Listener {
	return NewListener(p, b, st, logger)
}

// NewListener subscribes to broadcast traffic on b. Detach to stop.
func NewListener(processor *Processor, b *bus.Bus, st store.Store, logger *zap.Logger) *Listener {
	l := &Listener{processor: processor, store: st, logger: logger}
	l.unsub = b.Subscribe(bus.Broadcast, l.handle)
	return l
}

// Detach removes the bus subscription.
func (l *Listener) Detach() {
	if l.unsub != nil {
		l.unsub()
		l.unsub = nil
	}
}

func (l *Listener) handle(ctx context.Context, msg *bus.Message) error {
	if msg.Type != bus.TypeResponse {
		return nil
	}
	raw, ok := msg.Content["result"].(map[string]any)
	if !ok {
		return nil
	}

	pctx := NewContext(msg.Source, msg.ID)
	processed := l.processor.ProcessResult(Payload(raw), pctx)
	if processed == nil {
		l.logger.Debug("bus result dropped by pipeline", zap.String("message", msg.ID))
		return nil
	}

	record := RecordFromPayload(processed, msg.Source)
	id, err := l.store.Add(ctx, record)
	if err != nil {
		return fmt.Errorf("pipeline: store result from %s: %w", msg.Source, err)
	}
	l.logger.Debug("result stored",
		zap.String("record", id),
		zap.String("source", msg.Source))
	return nil
}

// RecordFromPayload lifts the conventional fields (file, line, message,
// priority, type, tags) out of a processed payload into a normalized
// record. The full payload rides along as data.
func RecordFromPayload(p Payload, source string) *store.Record {
	record := &store.Record{
		Type:     "agent_result",
		Source:   source,
		Priority: store.PriorityMedium,
		Data:     map[string]any(p),
	}
	if v, ok := p["type"].(string); ok {
		record.Type = v
	}
	if v, ok := p["file"].(string); ok {
		record.FilePath = v
	}
	if v, ok := p["message"].(string); ok {
		record.Message = v
	}
	if v, ok := p["priority"].(string); ok {
		record.Priority = store.ParsePriority(v)
	}
	switch v := p["line"].(type) {
	case int:
		record.Line = v
	case float64:
		record.Line = int(v)
	}
	switch tags := p["tags"].(type) {
	case []string:
		record.Tags = tags
	case []any:
		// Payloads that crossed a JSON boundary carry tags as []any.
		for _, tag := range tags {
			if s, ok := tag.(string); ok {
				record.Tags = append(record.Tags, s)
			}
		}
	}
	return record
}
