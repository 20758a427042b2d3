package server

import "github.com/Tyrowin/gochat-presence/internal/metrics"

// HandleEnvelope decodes one frame from c and applies it. Protocol errors
// are answered with an error envelope on c; the connection stays open.
func (h *Hub) HandleEnvelope(c *Client, raw []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}

	cmd, err := decodeEnvelope(raw)
	if err != nil {
		metrics.EnvelopesReceived.WithLabelValues("malformed").Inc()
		c.log.Debug().Err(err).Msg("malformed envelope")
		h.send(c, newError(ErrMalformedEnvelope))
		return
	}
	metrics.EnvelopesReceived.WithLabelValues(cmd.envelopeType()).Inc()

	switch cmd := cmd.(type) {
	case registerCommand:
		err = h.handleRegister(c, cmd)
	case privateMessageCommand:
		err = h.handlePrivateMessage(c, cmd)
	case typingCommand:
		h.handleTyping(cmd)
	case onlineUsersQuery:
		h.send(c, newOnlineUsers(h.directory.Snapshot()))
	case pingCommand:
		// Answering does not refresh lastSeen; only register does.
		h.send(c, newPong(h.now()))
	case unknownCommand:
		c.log.Debug().Str("type", cmd.Type).Msg("ignoring envelope of unknown type")
	}

	if err != nil {
		h.send(c, newError(err))
	}
}

// handleRegister binds c to the identity. An identity already bound to
// another connection is taken over; the old connection is not told.
func (h *Hub) handleRegister(c *Client, cmd registerCommand) error {
	if cmd.UserID == "" {
		return ErrMissingUserID
	}

	// A connection carries one identity; re-registering under a new one
	// releases the previous binding. Its presence record is left for the
	// reaper.
	if c.userID != "" && c.userID != cmd.UserID {
		if bound, ok := h.registry.Lookup(c.userID); ok && bound == c {
			h.registry.Unbind(c.userID)
		}
	}

	if prev, ok := h.registry.Lookup(cmd.UserID); ok && prev != c {
		c.log.Info().Str("user_id", cmd.UserID).Str("previous_conn_id", prev.id).Msg("identity taken over by new connection")
	}

	now := h.now()
	h.registry.Bind(cmd.UserID, c)
	rec := h.directory.Upsert(cmd.UserID, cmd.UserData, now)
	c.userID = cmd.UserID
	metrics.UsersOnline.Set(float64(h.directory.Len()))

	c.log.Info().Str("user_id", cmd.UserID).Msg("user registered")

	h.send(c, newRegistered(cmd.UserID, now))
	h.broadcast(newUserOnline(rec))
	h.broadcastUserList()
	return nil
}

// handlePrivateMessage records the message and forwards it when the
// recipient is connected. Offline recipients get nothing later: the
// message stays in the thread but is not queued.
func (h *Hub) handlePrivateMessage(c *Client, cmd privateMessageCommand) error {
	if cmd.From == "" || cmd.To == "" || cmd.Text == "" {
		return ErrMissingMessageFields
	}

	now := h.now()
	msg := Message{
		From:      cmd.From,
		To:        cmd.To,
		Text:      cmd.Text,
		MessageID: cmd.MessageID,
		Timestamp: cmd.Timestamp,
	}
	if msg.MessageID == "" {
		msg.MessageID = newMessageID(now)
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = now.UnixMilli()
	}
	h.threads.Append(msg.From, msg.To, msg)

	recipient, ok := h.registry.Lookup(msg.To)
	if !ok || recipient.closed {
		metrics.PrivateMessages.WithLabelValues("offline").Inc()
		return ErrRecipientOffline
	}

	h.send(recipient, newPrivateMessage(msg))
	h.send(c, newMessageDelivered(msg, h.now()))
	metrics.PrivateMessages.WithLabelValues("delivered").Inc()
	return nil
}

// handleTyping forwards a typing indicator. Incomplete envelopes and
// offline recipients are dropped without a reply.
func (h *Hub) handleTyping(cmd typingCommand) {
	if cmd.From == "" || cmd.To == "" {
		return
	}
	recipient, ok := h.registry.Lookup(cmd.To)
	if !ok || recipient.closed {
		return
	}
	h.send(recipient, newTyping(cmd))
}

// HandleClose detaches c. If c still holds the binding for its identity,
// the identity leaves the registry and the directory and everyone is told.
// A connection that never registered, or whose identity has since been
// taken over, leaves silently.
func (h *Hub) HandleClose(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	metrics.ConnectionsActive.Set(float64(len(h.clients)))
	c.log.Info().Int("clients", len(h.clients)).Msg("client disconnected")

	id := c.userID
	if id == "" {
		return
	}
	if bound, ok := h.registry.Lookup(id); !ok || bound != c {
		return
	}

	h.registry.Unbind(id)
	h.directory.Remove(id)
	metrics.UsersOnline.Set(float64(h.directory.Len()))

	h.broadcast(newUserOffline(id))
	h.broadcastUserList()
}
