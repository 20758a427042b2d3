package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope type discriminators.
const (
	TypeWelcome          = "welcome"
	TypeRegister         = "register"
	TypeRegistered       = "registered"
	TypeUserOnline       = "user_online"
	TypeUserOffline      = "user_offline"
	TypeGetOnlineUsers   = "get_online_users"
	TypeOnlineUsers      = "online_users"
	TypePrivateMessage   = "private_message"
	TypeMessageDelivered = "message_delivered"
	TypeTyping           = "typing"
	TypePing             = "ping"
	TypePong             = "pong"
	TypeError            = "error"
)

// Errors reported back to the sender in an error envelope. The text of each
// is the message the client sees.
var (
	ErrMalformedEnvelope    = errors.New("invalid message format")
	ErrMissingUserID        = errors.New("missing userId")
	ErrMissingMessageFields = errors.New("missing from, to or text")
	ErrRecipientOffline     = errors.New("recipient offline")
)

const welcomeText = "Connected to presence relay"

// envelopeHeader is read first to pick the command; the remaining fields are
// decoded only for the kinds that use them.
type envelopeHeader struct {
	Type string `json:"type"`
}

type registerFields struct {
	UserID   string          `json:"userId"`
	UserData json.RawMessage `json:"userData"`
}

type privateMessageFields struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

type typingFields struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	IsTyping bool            `json:"isTyping"`
	ChatID   json.RawMessage `json:"chatId"`
}

// command is the decoded form of an inbound envelope. The set of
// implementations is closed; the router switches over all of them.
type command interface {
	envelopeType() string
}

type registerCommand struct {
	UserID   string
	UserData json.RawMessage
}

type privateMessageCommand struct {
	From      string
	To        string
	Text      string
	MessageID string
	Timestamp int64
}

type typingCommand struct {
	From     string
	To       string
	IsTyping bool
	ChatID   json.RawMessage
}

type onlineUsersQuery struct{}

type pingCommand struct{}

// unknownCommand carries a type the relay does not understand.
type unknownCommand struct {
	Type string
}

func (registerCommand) envelopeType() string       { return TypeRegister }
func (privateMessageCommand) envelopeType() string { return TypePrivateMessage }
func (typingCommand) envelopeType() string         { return TypeTyping }
func (onlineUsersQuery) envelopeType() string      { return TypeGetOnlineUsers }
func (pingCommand) envelopeType() string           { return TypePing }
func (unknownCommand) envelopeType() string        { return "unknown" }

// decodeEnvelope parses one client frame. Any JSON error is reported as
// ErrMalformedEnvelope. Fields are type-checked only for the kind that
// reads them, so a ping or an unknown type never fails on its payload.
func decodeEnvelope(raw []byte) (command, error) {
	var header envelopeHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch header.Type {
	case TypeRegister:
		var f registerFields
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return registerCommand{UserID: f.UserID, UserData: nullToEmpty(f.UserData)}, nil
	case TypePrivateMessage:
		var f privateMessageFields
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return privateMessageCommand(f), nil
	case TypeTyping:
		var f typingFields
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return typingCommand{
			From:     f.From,
			To:       f.To,
			IsTyping: f.IsTyping,
			ChatID:   nullToEmpty(f.ChatID),
		}, nil
	case TypeGetOnlineUsers:
		return onlineUsersQuery{}, nil
	case TypePing:
		return pingCommand{}, nil
	default:
		return unknownCommand{Type: header.Type}, nil
	}
}

func nullToEmpty(raw json.RawMessage) json.RawMessage {
	if string(raw) == "null" {
		return nil
	}
	return raw
}

type welcomeEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type registeredEnvelope struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

type userOnlineEnvelope struct {
	Type     string          `json:"type"`
	UserID   string          `json:"userId"`
	UserData json.RawMessage `json:"userData"`
}

type userOfflineEnvelope struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type onlineUsersEnvelope struct {
	Type  string           `json:"type"`
	Users []PresenceRecord `json:"users"`
}

type privateMessageEnvelope struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

type messageDeliveredEnvelope struct {
	Type      string `json:"type"`
	To        string `json:"to"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

type typingEnvelope struct {
	Type     string          `json:"type"`
	From     string          `json:"from"`
	IsTyping bool            `json:"isTyping"`
	ChatID   json.RawMessage `json:"chatId,omitempty"`
}

// clockEnvelope is used for both pong replies and reaper ping probes.
type clockEnvelope struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type errorEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newWelcome() welcomeEnvelope {
	return welcomeEnvelope{Type: TypeWelcome, Message: welcomeText}
}

func newRegistered(id string, now time.Time) registeredEnvelope {
	return registeredEnvelope{Type: TypeRegistered, UserID: id, Timestamp: now.UnixMilli()}
}

func newUserOnline(rec PresenceRecord) userOnlineEnvelope {
	return userOnlineEnvelope{Type: TypeUserOnline, UserID: rec.UserID, UserData: rec.UserData}
}

func newUserOffline(id string) userOfflineEnvelope {
	return userOfflineEnvelope{Type: TypeUserOffline, UserID: id}
}

func newOnlineUsers(users []PresenceRecord) onlineUsersEnvelope {
	if users == nil {
		users = []PresenceRecord{}
	}
	return onlineUsersEnvelope{Type: TypeOnlineUsers, Users: users}
}

func newPrivateMessage(msg Message) privateMessageEnvelope {
	return privateMessageEnvelope{
		Type:      TypePrivateMessage,
		From:      msg.From,
		Text:      msg.Text,
		MessageID: msg.MessageID,
		Timestamp: msg.Timestamp,
	}
}

func newMessageDelivered(msg Message, deliveredAt time.Time) messageDeliveredEnvelope {
	return messageDeliveredEnvelope{
		Type:      TypeMessageDelivered,
		To:        msg.To,
		MessageID: msg.MessageID,
		Timestamp: deliveredAt.UnixMilli(),
	}
}

func newTyping(cmd typingCommand) typingEnvelope {
	return typingEnvelope{Type: TypeTyping, From: cmd.From, IsTyping: cmd.IsTyping, ChatID: cmd.ChatID}
}

func newPong(now time.Time) clockEnvelope {
	return clockEnvelope{Type: TypePong, Timestamp: now.UnixMilli()}
}

func newPing(now time.Time) clockEnvelope {
	return clockEnvelope{Type: TypePing, Timestamp: now.UnixMilli()}
}

func newError(err error) errorEnvelope {
	return errorEnvelope{Type: TypeError, Message: err.Error()}
}
