package signaling

import (
	"context"

	"peerlink-be/internal/pkg/logger"
	"peerlink-be/internal/repository/contract"
)

// BusQueueNotifier fans queue row mutations out to per-entry realtime
// subjects. It is wired into the queue repository so the passive side of a
// pairing (and any liveness watcher) learns about row changes without
// polling.
type BusQueueNotifier struct {
	bus Bus
	log logger.ILogger
}

var _ contract.QueueNotifier = (*BusQueueNotifier)(nil)

func NewBusQueueNotifier(bus Bus, log logger.ILogger) *BusQueueNotifier {
	return &BusQueueNotifier{bus: bus, log: log}
}

func (n *BusQueueNotifier) NotifyRowChange(ctx context.Context, event contract.QueueRowEvent) {
	if err := n.bus.Publish(RowChangeSubject(event.QueueId), event); err != nil {
		// A lost notification degrades to poll-discovery on the next tick;
		// never fail the mutation that triggered it.
		n.log.Warn("Signaling", "Failed to publish row-change event", map[string]interface{}{
			"queue_id": event.QueueId.String(),
			"type":     string(event.Type),
			"error":    err.Error(),
		})
	}
}
