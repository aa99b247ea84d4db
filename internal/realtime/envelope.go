package realtime

import (
	"time"

	"realtime-service/internal/store"
)

// Wire error codes. Every per-message failure maps onto exactly one of
// these; none of them closes the connection.
const (
	ErrCodeInvalidJSON      = "INVALID_JSON"
	ErrCodeUnknownType      = "UNKNOWN_MESSAGE_TYPE"
	ErrCodeResourceNotFound = "RESOURCE_NOT_FOUND"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	ErrCodeChannelsDisabled = "CHANNELS_DISABLED"
	ErrCodeNotInChannel     = "NOT_IN_CHANNEL"
	ErrCodeNotMember        = "NOT_MEMBER"
	ErrCodeJoinFailed       = "JOIN_FAILED"
	ErrCodeLeaveFailed      = "LEAVE_FAILED"
	ErrCodeUpdateFailed     = "UPDATE_FAILED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// Error is a protocol-level failure that maps onto an error envelope.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Envelope is the inbound wire unit, discriminated on Type. Fields that do
// not apply to a given type are simply left zero by the decoder.
type Envelope struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"requestId,omitempty"`
	Resource  string                 `json:"resource,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Partition string                 `json:"partition,omitempty"`
	Limit     int                    `json:"limit,omitempty"`
	Cursor    string                 `json:"cursor,omitempty"`
	Filter    map[string]interface{} `json:"filter,omitempty"`
	Events    []string               `json:"events,omitempty"`
	Data      interface{}            `json:"data,omitempty"`
	Channel   string                 `json:"channel,omitempty"`
	Event     string                 `json:"event,omitempty"`
	Message   interface{}            `json:"message,omitempty"`
	UserInfo  map[string]interface{} `json:"userInfo,omitempty"`
}

// Payload is an outbound envelope. Built as a flat map so response shapes
// match the wire protocol exactly.
type Payload map[string]interface{}

func (p Payload) withRequestID(requestID string) Payload {
	if requestID != "" {
		p["requestId"] = requestID
	}
	return p
}

func errorPayload(code, message, requestID string) Payload {
	return Payload{
		"type":    "error",
		"code":    code,
		"message": message,
	}.withRequestID(requestID)
}

func pongPayload() Payload {
	return Payload{"type": "pong", "timestamp": time.Now().Unix()}
}

func connectedPayload(clientID string, user interface{}) Payload {
	return Payload{
		"type":      "connected",
		"clientId":  clientID,
		"user":      user,
		"timestamp": time.Now().Unix(),
	}
}

func eventPayload(event store.EventKind, resource string, data store.Record) Payload {
	return Payload{
		"type":      "event",
		"event":     string(event),
		"resource":  resource,
		"data":      data,
		"timestamp": time.Now().Unix(),
	}
}

func channelMessagePayload(channel, event, from string, data interface{}) Payload {
	p := Payload{
		"type":      "message",
		"channel":   channel,
		"from":      from,
		"data":      data,
		"timestamp": time.Now().Unix(),
	}
	if event != "" {
		p["event"] = event
	}
	return p
}

func presencePayload(kind, channel string, member MemberInfo) Payload {
	return Payload{
		"type":      kind,
		"channel":   channel,
		"member":    member,
		"timestamp": time.Now().Unix(),
	}
}
