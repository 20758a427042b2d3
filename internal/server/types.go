// Package server defines shared message records and utility helpers that
// are reused across client and hub logic.
package server

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Message is one private message as recorded in a thread. It is never
// modified after creation.
type Message struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

const (
	messageIDSuffixLen = 9
	base36Alphabet     = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// newMessageID returns "<unixMillis>_<9 base36 chars>".
func newMessageID(now time.Time) string {
	var b strings.Builder
	b.Grow(messageIDSuffixLen)
	for i := 0; i < messageIDSuffixLen; i++ {
		b.WriteByte(base36Alphabet[rand.Intn(len(base36Alphabet))])
	}
	return fmt.Sprintf("%d_%s", now.UnixMilli(), b.String())
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
