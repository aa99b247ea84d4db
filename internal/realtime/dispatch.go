package realtime

import "encoding/json"

// Send marshals the payload and queues it for a single connection.
// Unknown or closed connections are a no-op.
func (h *Hub) Send(connID string, payload Payload) bool {
	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.sendToClient(client, payload)
}

func (h *Hub) sendToClient(client *Client, payload Payload) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal payload", "clientID", client.id, "error", err)
		h.metrics.Error()
		return false
	}
	return client.enqueue(data)
}

// BroadcastToChannel fans a payload out to every member of the channel,
// skipping excludeConnID. Returns the number of frames queued.
func (h *Hub) BroadcastToChannel(channel string, payload Payload, excludeConnID string) int {
	connIDs := h.channels.MemberConnIDs(channel)
	if len(connIDs) == 0 {
		return 0
	}

	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal broadcast", "channel", channel, "error", err)
		h.metrics.Error()
		return 0
	}

	delivered := 0
	h.mu.RLock()
	for _, connID := range connIDs {
		if connID == excludeConnID {
			continue
		}
		client, ok := h.clients[connID]
		if !ok {
			continue
		}
		if client.enqueue(data) {
			delivered++
		}
	}
	h.mu.RUnlock()

	if delivered > 0 {
		h.metrics.BroadcastSent()
	}
	return delivered
}
