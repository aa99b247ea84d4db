package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"realtime-service/internal/store"
)

const storeTimeout = 5 * time.Second

// HandleMessage processes one inbound frame on the reader goroutine, so
// per-connection ordering is the arrival order.
func (h *Hub) HandleMessage(client *Client, raw []byte) {
	client.touch()
	h.metrics.MessageReceived()

	if !h.limiter.Allow(client.id) {
		h.metrics.Limited()
		h.sendToClient(client, errorPayload(ErrCodeRateLimited, "message rate limit exceeded", ""))
		return
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.sendToClient(client, errorPayload(ErrCodeInvalidJSON, "malformed JSON message", ""))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.metrics.Error()
			h.logger.Error("panic handling message", "clientID", client.id, "type", env.Type, "panic", r)
			h.sendToClient(client, errorPayload(ErrCodeInternal, "internal error", env.RequestID))
		}
	}()

	switch env.Type {
	case "ping":
		h.sendToClient(client, pongPayload().withRequestID(env.RequestID))
	case "subscribe":
		h.handleSubscribe(client, &env)
	case "unsubscribe":
		h.handleUnsubscribe(client, &env)
	case "get":
		h.handleGet(client, &env)
	case "list":
		h.handleList(client, &env)
	case "insert":
		h.handleInsert(client, &env)
	case "update":
		h.handleUpdate(client, &env)
	case "delete":
		h.handleDelete(client, &env)
	case "join":
		h.handleJoin(client, &env)
	case "leave":
		h.handleLeave(client, &env)
	case "publish", "channel:message":
		h.handleChannelMessage(client, &env)
	case "channel:update":
		h.handleChannelUpdate(client, &env)
	default:
		h.sendToClient(client, errorPayload(ErrCodeUnknownType, fmt.Sprintf("unknown message type %q", env.Type), env.RequestID))
	}
}

func (h *Hub) sendProtoErr(client *Client, err *Error, requestID string) {
	h.metrics.Error()
	h.sendToClient(client, errorPayload(err.Code, err.Message, requestID))
}

func (h *Hub) handleSubscribe(client *Client, env *Envelope) {
	sub, perr := h.router.Subscribe(client.id, client.identity, env.Resource, env.Filter, env.Events)
	if perr != nil {
		h.sendProtoErr(client, perr, env.RequestID)
		return
	}

	h.sendToClient(client, Payload{
		"type":     "subscribed",
		"resource": sub.Resource,
		"filter":   sub.Filter,
		"events":   env.Events,
	}.withRequestID(env.RequestID))
}

func (h *Hub) handleUnsubscribe(client *Client, env *Envelope) {
	h.router.Unsubscribe(client.id, env.Resource, env.Filter)
	h.sendToClient(client, Payload{
		"type":     "unsubscribed",
		"resource": env.Resource,
		"filter":   env.Filter,
	}.withRequestID(env.RequestID))
}

func (h *Hub) handleGet(client *Client, env *Envelope) {
	if perr := h.router.Authorize(env.Resource, client.identity); perr != nil {
		h.sendProtoErr(client, perr, env.RequestID)
		return
	}

	ctx, cancel := context.WithTimeout(client.ctx, storeTimeout)
	defer cancel()

	record, err := h.store.Get(ctx, env.Resource, env.ID, env.Partition)
	if err != nil {
		h.sendStoreErr(client, err, env)
		return
	}

	h.sendToClient(client, Payload{
		"type":     "data",
		"resource": env.Resource,
		"data":     h.router.Redact(env.Resource, record),
	}.withRequestID(env.RequestID))
}

func (h *Hub) handleList(client *Client, env *Envelope) {
	if perr := h.router.Authorize(env.Resource, client.identity); perr != nil {
		h.sendProtoErr(client, perr, env.RequestID)
		return
	}

	ctx, cancel := context.WithTimeout(client.ctx, storeTimeout)
	defer cancel()

	result, err := h.store.List(ctx, env.Resource, store.ListOptions{
		Filter:    env.Filter,
		Partition: env.Partition,
		Limit:     env.Limit,
		Cursor:    env.Cursor,
	})
	if err != nil {
		h.sendStoreErr(client, err, env)
		return
	}

	records := make([]store.Record, 0, len(result.Records))
	for _, r := range result.Records {
		records = append(records, h.router.Redact(env.Resource, r))
	}

	p := Payload{
		"type":     "data",
		"resource": env.Resource,
		"data":     records,
	}
	if result.Cursor != "" {
		p["cursor"] = result.Cursor
	}
	h.sendToClient(client, p.withRequestID(env.RequestID))
}

func (h *Hub) handleInsert(client *Client, env *Envelope) {
	if perr := h.router.Authorize(env.Resource, client.identity); perr != nil {
		h.sendProtoErr(client, perr, env.RequestID)
		return
	}
	data, ok := asRecord(env.Data)
	if !ok {
		h.sendToClient(client, errorPayload(ErrCodeInvalidJSON, "data must be an object", env.RequestID))
		return
	}

	ctx, cancel := context.WithTimeout(client.ctx, storeTimeout)
	defer cancel()

	record, err := h.store.Insert(ctx, env.Resource, data, env.Partition)
	if err != nil {
		h.sendStoreErr(client, err, env)
		return
	}

	h.sendToClient(client, Payload{
		"type":     "inserted",
		"resource": env.Resource,
		"data":     h.router.Redact(env.Resource, record),
	}.withRequestID(env.RequestID))
}

func (h *Hub) handleUpdate(client *Client, env *Envelope) {
	if perr := h.router.Authorize(env.Resource, client.identity); perr != nil {
		h.sendProtoErr(client, perr, env.RequestID)
		return
	}
	data, ok := asRecord(env.Data)
	if !ok {
		h.sendToClient(client, errorPayload(ErrCodeInvalidJSON, "data must be an object", env.RequestID))
		return
	}

	ctx, cancel := context.WithTimeout(client.ctx, storeTimeout)
	defer cancel()

	record, err := h.store.Update(ctx, env.Resource, env.ID, data, env.Partition)
	if err != nil {
		h.sendStoreErr(client, err, env)
		return
	}

	h.sendToClient(client, Payload{
		"type":     "updated",
		"resource": env.Resource,
		"data":     h.router.Redact(env.Resource, record),
	}.withRequestID(env.RequestID))
}

func (h *Hub) handleDelete(client *Client, env *Envelope) {
	if perr := h.router.Authorize(env.Resource, client.identity); perr != nil {
		h.sendProtoErr(client, perr, env.RequestID)
		return
	}

	ctx, cancel := context.WithTimeout(client.ctx, storeTimeout)
	defer cancel()

	record, err := h.store.Delete(ctx, env.Resource, env.ID, env.Partition)
	if err != nil {
		h.sendStoreErr(client, err, env)
		return
	}

	h.sendToClient(client, Payload{
		"type":     "deleted",
		"resource": env.Resource,
		"data":     h.router.Redact(env.Resource, record),
	}.withRequestID(env.RequestID))
}

func (h *Hub) handleJoin(client *Client, env *Envelope) {
	if !h.opts.ChannelsEnabled {
		h.sendProtoErr(client, NewError(ErrCodeChannelsDisabled, "channel messaging is disabled"), env.RequestID)
		return
	}
	if env.Channel == "" {
		h.sendProtoErr(client, NewError(ErrCodeJoinFailed, "channel name required"), env.RequestID)
		return
	}

	result, perr := h.channels.Join(client.id, env.Channel, client.identity, MemberInfo(env.UserInfo))
	if perr != nil {
		h.sendProtoErr(client, perr, env.RequestID)
		return
	}

	if h.presence != nil && client.identity != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := h.presence.JoinChannel(ctx, result.Channel, client.identity.ID); err != nil {
			h.logger.Debug("presence mirror join failed", "channel", result.Channel, "error", err)
		}
		cancel()
	}

	p := Payload{
		"type":        "channel:joined",
		"channel":     result.Channel,
		"channelType": string(result.Type),
	}
	if result.Type == ChannelPresence {
		p["members"] = result.Members
		p["me"] = result.Me
	}
	h.sendToClient(client, p.withRequestID(env.RequestID))

	if result.Type == ChannelPresence {
		h.BroadcastToChannel(result.Channel, presencePayload("presence:member_joined", result.Channel, result.Me), client.id)
	}
}

func (h *Hub) handleLeave(client *Client, env *Envelope) {
	if !h.opts.ChannelsEnabled {
		h.sendProtoErr(client, NewError(ErrCodeChannelsDisabled, "channel messaging is disabled"), env.RequestID)
		return
	}

	dep, perr := h.channels.Leave(client.id, env.Channel)
	if perr != nil {
		h.sendProtoErr(client, perr, env.RequestID)
		return
	}

	if h.presence != nil && client.identity != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := h.presence.LeaveChannel(ctx, dep.Channel, client.identity.ID); err != nil {
			h.logger.Debug("presence mirror leave failed", "channel", dep.Channel, "error", err)
		}
		cancel()
	}

	h.sendToClient(client, Payload{
		"type":    "channel:left",
		"channel": dep.Channel,
	}.withRequestID(env.RequestID))

	if dep.Type == ChannelPresence {
		h.BroadcastToChannel(dep.Channel, presencePayload("presence:member_left", dep.Channel, dep.Member), client.id)
	}
}

func (h *Hub) handleChannelMessage(client *Client, env *Envelope) {
	if !h.opts.ChannelsEnabled {
		h.sendProtoErr(client, NewError(ErrCodeChannelsDisabled, "channel messaging is disabled"), env.RequestID)
		return
	}
	if !h.channels.IsMember(env.Channel, client.id) {
		h.sendProtoErr(client, NewError(ErrCodeNotInChannel, fmt.Sprintf("not in channel %q", env.Channel)), env.RequestID)
		return
	}

	data := env.Message
	if data == nil {
		data = env.Data
	}
	from := client.id
	if client.identity != nil {
		from = client.identity.ID
	}

	delivered := h.BroadcastToChannel(env.Channel, channelMessagePayload(env.Channel, env.Event, from, data), client.id)

	ack := "published"
	if env.Type == "channel:message" {
		ack = "channel:sent"
	}
	h.sendToClient(client, Payload{
		"type":      ack,
		"channel":   env.Channel,
		"delivered": delivered,
	}.withRequestID(env.RequestID))
}

func (h *Hub) handleChannelUpdate(client *Client, env *Envelope) {
	if !h.opts.ChannelsEnabled {
		h.sendProtoErr(client, NewError(ErrCodeChannelsDisabled, "channel messaging is disabled"), env.RequestID)
		return
	}

	member, perr := h.channels.UpdateMember(client.id, env.Channel, MemberInfo(env.UserInfo))
	if perr != nil {
		h.sendProtoErr(client, perr, env.RequestID)
		return
	}

	h.sendToClient(client, Payload{
		"type":    "channel:updated",
		"channel": env.Channel,
		"member":  member,
	}.withRequestID(env.RequestID))

	h.BroadcastToChannel(env.Channel, presencePayload("presence:member_updated", env.Channel, member), client.id)
}

func (h *Hub) sendStoreErr(client *Client, err error, env *Envelope) {
	if errors.Is(err, store.ErrNotFound) {
		h.sendProtoErr(client, NewError(ErrCodeNotFound, fmt.Sprintf("%s/%s not found", env.Resource, env.ID)), env.RequestID)
		return
	}
	h.logger.Error("store operation failed", "clientID", client.id, "type", env.Type, "resource", env.Resource, "error", err)
	h.sendProtoErr(client, NewError(ErrCodeInternal, "store operation failed"), env.RequestID)
}

// asRecord coerces the decoded data field into a record. JSON objects
// always decode to map[string]interface{}.
func asRecord(v interface{}) (store.Record, bool) {
	if v == nil {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return store.Record(m), true
}
