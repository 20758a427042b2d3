package server

import "github.com/Tyrowin/gochat-presence/internal/metrics"

// Sweep probes or evicts presence records that have not been refreshed
// within the presence TTL. A stale identity that still has an open
// connection is sent a ping envelope and kept; one without is removed from
// the registry and the directory. Probing does not refresh lastSeen, so a
// connected identity that never re-registers is probed on every sweep.
//
// Evictions are silent unless Reaper.AnnounceEvictions is set, in which case
// they are broadcast the same way an explicit disconnect is.
func (h *Hub) Sweep() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	ttl := h.cfg.Reaper.PresenceTTL

	var evicted []string
	for _, rec := range h.directory.Snapshot() {
		if now.Sub(rec.LastSeen) <= ttl {
			continue
		}

		if c, ok := h.registry.Lookup(rec.UserID); ok && !c.closed {
			h.send(c, newPing(now))
			metrics.ReaperProbes.Inc()
			continue
		}

		h.registry.Unbind(rec.UserID)
		h.directory.Remove(rec.UserID)
		evicted = append(evicted, rec.UserID)
		metrics.ReaperEvictions.Inc()
		h.log.Info().Str("user_id", rec.UserID).Time("last_seen", rec.LastSeen).Msg("evicted stale presence")
	}

	if len(evicted) == 0 {
		return
	}
	metrics.UsersOnline.Set(float64(h.directory.Len()))

	if !h.cfg.Reaper.AnnounceEvictions {
		return
	}
	for _, id := range evicted {
		h.broadcast(newUserOffline(id))
	}
	h.broadcastUserList()
}
