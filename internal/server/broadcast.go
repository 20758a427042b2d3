package server

import "encoding/json"

// broadcast encodes v once and queues the same bytes for every open,
// registered connection. A failed send to one connection does not affect
// the others. The caller holds h.mu.
func (h *Hub) broadcast(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("error encoding broadcast envelope")
		return
	}

	sent, failed := 0, 0
	h.registry.ForEachOpen(func(_ string, c *Client) {
		if h.sendRaw(c, payload) {
			sent++
		} else {
			failed++
		}
	})
	h.log.Debug().Int("sent", sent).Int("failed", failed).Msg("broadcast")
}

// broadcastUserList sends the current directory snapshot to everyone.
func (h *Hub) broadcastUserList() {
	h.broadcast(newOnlineUsers(h.directory.Snapshot()))
}
