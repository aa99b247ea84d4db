package realtime

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"realtime-service/internal/auth"
)

// ChannelType is derived from the channel name prefix, never stored.
type ChannelType string

const (
	ChannelPublic   ChannelType = "public"
	ChannelPrivate  ChannelType = "private"
	ChannelPresence ChannelType = "presence"
)

const (
	presencePrefix = "presence-"
	privatePrefix  = "private-"
)

// TypeOfChannel maps a channel name onto its type.
func TypeOfChannel(name string) ChannelType {
	switch {
	case strings.HasPrefix(name, presencePrefix):
		return ChannelPresence
	case strings.HasPrefix(name, privatePrefix):
		return ChannelPrivate
	default:
		return ChannelPublic
	}
}

// BaseName strips the type prefix; guards are registered against base
// names so "presence-room" and "private-room" share one guard.
func BaseName(name string) string {
	name = strings.TrimPrefix(name, presencePrefix)
	return strings.TrimPrefix(name, privatePrefix)
}

// MemberInfo is the per-member metadata kept for presence channels. The
// manager stamps id, connectionId and joinedAt; everything else is caller
// supplied.
type MemberInfo map[string]interface{}

// AuthGuard authorizes joins on private and presence channels. Guards are
// resolved once at startup, keyed by channel base name or "*".
type AuthGuard interface {
	CanJoin(identity *auth.Identity, channel string, info MemberInfo) bool
}

// GuardFunc adapts a plain function to AuthGuard.
type GuardFunc func(identity *auth.Identity, channel string, info MemberInfo) bool

func (f GuardFunc) CanJoin(identity *auth.Identity, channel string, info MemberInfo) bool {
	return f(identity, channel, info)
}

// RoleGuard admits identities whose role is in the list. An empty list
// admits any authenticated identity.
func RoleGuard(roles []string) AuthGuard {
	return GuardFunc(func(identity *auth.Identity, channel string, info MemberInfo) bool {
		if len(roles) == 0 {
			return true
		}
		for _, role := range roles {
			if identity.Role == role {
				return true
			}
		}
		return false
	})
}

// channel is one live channel instance. Instances exist only while they
// have members.
type channel struct {
	name      string
	kind      ChannelType
	members   map[string]MemberInfo
	createdAt time.Time
}

// JoinResult is what the join handler needs to answer the joiner. Members
// and Me are populated for presence channels only.
type JoinResult struct {
	Channel string
	Type    ChannelType
	Members []MemberInfo
	Me      MemberInfo
}

// Departure describes a membership removal so the caller can broadcast
// presence events after the fact.
type Departure struct {
	Channel string
	Type    ChannelType
	Member  MemberInfo
}

// ChannelManager owns the channel table and all membership state.
type ChannelManager struct {
	mu       sync.RWMutex
	channels map[string]*channel
	guards   map[string]AuthGuard
	now      func() time.Time
}

func NewChannelManager() *ChannelManager {
	return &ChannelManager{
		channels: make(map[string]*channel),
		guards:   make(map[string]AuthGuard),
		now:      time.Now,
	}
}

// RegisterGuard installs a join guard for a channel base name, or for
// every guarded channel when base is "*".
func (cm *ChannelManager) RegisterGuard(base string, guard AuthGuard) {
	cm.mu.Lock()
	cm.guards[base] = guard
	cm.mu.Unlock()
}

func (cm *ChannelManager) guardFor(name string) AuthGuard {
	if g, ok := cm.guards[BaseName(name)]; ok {
		return g
	}
	return cm.guards["*"]
}

// Join adds the connection to the channel, creating it lazily. Rejoining a
// channel overwrites the member record rather than failing.
func (cm *ChannelManager) Join(connID, name string, identity *auth.Identity, info MemberInfo) (*JoinResult, *Error) {
	kind := TypeOfChannel(name)

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if kind != ChannelPublic {
		if identity == nil {
			return nil, NewError(ErrCodeForbidden, fmt.Sprintf("channel %q requires authentication", name))
		}
		if guard := cm.guardFor(name); guard != nil && !guard.CanJoin(identity, name, info) {
			return nil, NewError(ErrCodeForbidden, fmt.Sprintf("join to %q denied", name))
		}
	}

	ch, ok := cm.channels[name]
	if !ok {
		ch = &channel{
			name:      name,
			kind:      kind,
			members:   make(map[string]MemberInfo),
			createdAt: cm.now(),
		}
		cm.channels[name] = ch
	}

	member := make(MemberInfo, len(info)+3)
	for k, v := range info {
		member[k] = v
	}
	if identity != nil {
		member["id"] = identity.ID
	} else {
		member["id"] = connID
	}
	member["connectionId"] = connID
	member["joinedAt"] = cm.now().Unix()
	ch.members[connID] = member

	result := &JoinResult{Channel: name, Type: kind}
	if kind == ChannelPresence {
		result.Me = member
		result.Members = make([]MemberInfo, 0, len(ch.members))
		for _, m := range ch.members {
			result.Members = append(result.Members, m)
		}
	}
	return result, nil
}

// Leave removes the connection from the channel. Leaving a channel you are
// not in surfaces NOT_MEMBER since that usually indicates a client bug.
func (cm *ChannelManager) Leave(connID, name string) (*Departure, *Error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	ch, ok := cm.channels[name]
	if !ok {
		return nil, NewError(ErrCodeNotMember, fmt.Sprintf("not a member of %q", name))
	}
	member, ok := ch.members[connID]
	if !ok {
		return nil, NewError(ErrCodeNotMember, fmt.Sprintf("not a member of %q", name))
	}

	delete(ch.members, connID)
	if len(ch.members) == 0 {
		delete(cm.channels, name)
	}

	dep := &Departure{Channel: name, Type: ch.kind}
	if ch.kind == ChannelPresence {
		dep.Member = member
	}
	return dep, nil
}

// LeaveAll removes the connection from every channel it is in. Used only
// by disconnect cleanup; calling it twice is harmless.
func (cm *ChannelManager) LeaveAll(connID string) []Departure {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var departures []Departure
	for name, ch := range cm.channels {
		member, ok := ch.members[connID]
		if !ok {
			continue
		}
		delete(ch.members, connID)
		if len(ch.members) == 0 {
			delete(cm.channels, name)
		}

		dep := Departure{Channel: name, Type: ch.kind}
		if ch.kind == ChannelPresence {
			dep.Member = member
		}
		departures = append(departures, dep)
	}
	return departures
}

// UpdateMember merges a metadata patch into the stored member record.
// Valid only on presence channels.
func (cm *ChannelManager) UpdateMember(connID, name string, patch MemberInfo) (MemberInfo, *Error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	ch, ok := cm.channels[name]
	if !ok {
		return nil, NewError(ErrCodeNotMember, fmt.Sprintf("not a member of %q", name))
	}
	if ch.kind != ChannelPresence {
		return nil, NewError(ErrCodeUpdateFailed, fmt.Sprintf("channel %q does not track member info", name))
	}
	member, ok := ch.members[connID]
	if !ok {
		return nil, NewError(ErrCodeNotMember, fmt.Sprintf("not a member of %q", name))
	}

	updated := make(MemberInfo, len(member)+len(patch)+1)
	for k, v := range member {
		updated[k] = v
	}
	for k, v := range patch {
		updated[k] = v
	}
	// Stamped fields are not patchable.
	updated["id"] = member["id"]
	updated["connectionId"] = member["connectionId"]
	updated["joinedAt"] = member["joinedAt"]
	updated["updatedAt"] = cm.now().Unix()
	ch.members[connID] = updated

	return updated, nil
}

// MemberConnIDs lists the connection ids currently in the channel.
func (cm *ChannelManager) MemberConnIDs(name string) []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	ch, ok := cm.channels[name]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(ch.members))
	for connID := range ch.members {
		ids = append(ids, connID)
	}
	return ids
}

// IsMember reports whether the connection is in the channel.
func (cm *ChannelManager) IsMember(name, connID string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	ch, ok := cm.channels[name]
	if !ok {
		return false
	}
	_, ok = ch.members[connID]
	return ok
}

// ChannelCount reports how many channels currently have members.
func (cm *ChannelManager) ChannelCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.channels)
}

// MemberCount reports the channel's current membership size.
func (cm *ChannelManager) MemberCount(name string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	ch, ok := cm.channels[name]
	if !ok {
		return 0
	}
	return len(ch.members)
}
