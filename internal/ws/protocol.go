package ws

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/taskhub/chat-service/internal/message"
)

// Wire-level error reasons. These exact strings are the contract with the
// browser client; validation failures from the service layer are translated
// onto them before anything is written to the socket.
const (
	ReasonInvalidJSON      = "Invalid JSON format"
	ReasonInvalidFormat    = "Invalid message format"
	ReasonInvalidSenderID  = "Invalid sender_id"
	ReasonInvalidReceiver  = "Invalid receiver_id"
	ReasonEmptyContent     = "Message content is empty"
	ReasonTooLong          = "Message too long"
	ReasonSenderMismatch   = "Sender ID mismatch"
	ReasonReceiverNotFound = "Receiver does not exist"
	ReasonSaveFailed       = "Failed to save message"
)

// Close codes used when refusing a handshake.
const (
	CloseMissingCredential = 4001
	CloseInvalidCredential = 4002
)

var (
	errInvalidJSON       = errors.New(ReasonInvalidJSON)
	errInvalidFormat     = errors.New(ReasonInvalidFormat)
	errInvalidSenderID   = errors.New(ReasonInvalidSenderID)
	errInvalidReceiverID = errors.New(ReasonInvalidReceiver)
)

type rawSendEvent struct {
	SenderID   json.RawMessage `json:"sender_id"`
	ReceiverID json.RawMessage `json:"receiver_id"`
	Content    json.RawMessage `json:"content"`
}

// parseSendEvent turns an inbound frame into a typed SendInput or a typed
// failure. Ids may arrive as JSON numbers or numeric strings (the browser
// client is loose about this); anything else is rejected. No field of the
// raw payload is accessed unchecked.
func parseSendEvent(data []byte) (message.SendInput, error) {
	var raw rawSendEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return message.SendInput{}, errInvalidJSON
	}
	if raw.SenderID == nil || raw.ReceiverID == nil || raw.Content == nil {
		return message.SendInput{}, errInvalidFormat
	}

	var content string
	if err := json.Unmarshal(raw.Content, &content); err != nil {
		return message.SendInput{}, errInvalidFormat
	}

	senderID, err := coerceID(raw.SenderID)
	if err != nil {
		return message.SendInput{}, errInvalidSenderID
	}
	receiverID, err := coerceID(raw.ReceiverID)
	if err != nil {
		return message.SendInput{}, errInvalidReceiverID
	}

	return message.SendInput{SenderID: senderID, ReceiverID: receiverID, Content: content}, nil
}

func coerceID(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	}
	return 0, errInvalidFormat
}

type errorEvent struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type ackEvent struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	MessageID int64  `json:"message_id"`
}

type pushEvent struct {
	Type    string           `json:"type"`
	Message *message.Message `json:"message"`
}

func encodeError(reason string) []byte {
	b, _ := json.Marshal(errorEvent{Type: "error", Status: "error", Message: reason})
	return b
}

func encodeAck(messageID int64) []byte {
	b, _ := json.Marshal(ackEvent{Type: "ack", Status: "success", MessageID: messageID})
	return b
}

func encodeNewMessage(m *message.Message) []byte {
	b, _ := json.Marshal(pushEvent{Type: "new_message", Message: m})
	return b
}

// reasonFor maps pipeline failures to wire reasons. Anything unrecognized is
// a persistence-path failure and is reported generically.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, errInvalidJSON):
		return ReasonInvalidJSON
	case errors.Is(err, errInvalidFormat):
		return ReasonInvalidFormat
	case errors.Is(err, errInvalidSenderID):
		return ReasonInvalidSenderID
	case errors.Is(err, errInvalidReceiverID):
		return ReasonInvalidReceiver
	case errors.Is(err, message.ErrEmptyContent):
		return ReasonEmptyContent
	case errors.Is(err, message.ErrContentTooLong):
		return ReasonTooLong
	case errors.Is(err, message.ErrSenderMismatch):
		return ReasonSenderMismatch
	case errors.Is(err, message.ErrReceiverNotFound):
		return ReasonReceiverNotFound
	default:
		return ReasonSaveFailed
	}
}
