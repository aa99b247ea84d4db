package realtime

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"realtime-service/internal/auth"
	"realtime-service/internal/store"
)

// CollectionRule is the per-collection authorization and redaction
// configuration. A non-empty rule set acts as a collection allow-list.
type CollectionRule struct {
	AllowedRoles    []string
	ProtectedFields []string
}

// Subscription is one (connection, collection, filter) registration.
type Subscription struct {
	Resource    string
	Filter      map[string]interface{}
	Events      map[string]bool
	Fingerprint string
}

// SubscriptionRouter owns the collection -> connection index and decides
// which connections a change event reaches.
type SubscriptionRouter struct {
	rules     map[string]CollectionRule
	redactors map[string]*FieldRedactor

	mu sync.RWMutex
	// resource -> connection id -> filter fingerprint -> subscription
	index map[string]map[string]map[string]*Subscription
}

func NewSubscriptionRouter(rules map[string]CollectionRule) *SubscriptionRouter {
	redactors := make(map[string]*FieldRedactor, len(rules))
	for name, rule := range rules {
		if len(rule.ProtectedFields) > 0 {
			redactors[name] = NewFieldRedactor(rule.ProtectedFields)
		}
	}
	return &SubscriptionRouter{
		rules:     rules,
		redactors: redactors,
		index:     make(map[string]map[string]map[string]*Subscription),
	}
}

// Authorize checks the allow-list and the collection's role requirements.
// Shared by subscribe and the CRUD handlers.
func (sr *SubscriptionRouter) Authorize(resource string, identity *auth.Identity) *Error {
	if len(sr.rules) == 0 {
		return nil
	}

	rule, ok := sr.rules[resource]
	if !ok {
		return NewError(ErrCodeResourceNotFound, fmt.Sprintf("unknown resource %q", resource))
	}
	if len(rule.AllowedRoles) == 0 {
		return nil
	}
	if identity == nil {
		return NewError(ErrCodeForbidden, fmt.Sprintf("resource %q requires authentication", resource))
	}
	for _, role := range rule.AllowedRoles {
		if identity.Role == role {
			return nil
		}
	}
	return NewError(ErrCodeForbidden, fmt.Sprintf("role %q may not access resource %q", identity.Role, resource))
}

// Subscribe registers the connection under (resource, filter). Subscribing
// twice with the same filter is a no-op on the index.
func (sr *SubscriptionRouter) Subscribe(connID string, identity *auth.Identity, resource string, filter map[string]interface{}, events []string) (*Subscription, *Error) {
	if werr := sr.Authorize(resource, identity); werr != nil {
		return nil, werr
	}

	sub := &Subscription{
		Resource:    resource,
		Filter:      filter,
		Fingerprint: Fingerprint(filter),
	}
	if len(events) > 0 {
		sub.Events = make(map[string]bool, len(events))
		for _, e := range events {
			sub.Events[e] = true
		}
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	byConn, ok := sr.index[resource]
	if !ok {
		byConn = make(map[string]map[string]*Subscription)
		sr.index[resource] = byConn
	}
	byFilter, ok := byConn[connID]
	if !ok {
		byFilter = make(map[string]*Subscription)
		byConn[connID] = byFilter
	}
	if existing, ok := byFilter[sub.Fingerprint]; ok {
		// Idempotent: only the event mask may be refreshed.
		existing.Events = sub.Events
		return existing, nil
	}
	byFilter[sub.Fingerprint] = sub
	return sub, nil
}

// Unsubscribe removes the (resource, filter) registration. The connection
// stays in the collection index while it holds other filters for it.
func (sr *SubscriptionRouter) Unsubscribe(connID, resource string, filter map[string]interface{}) {
	fingerprint := Fingerprint(filter)

	sr.mu.Lock()
	defer sr.mu.Unlock()

	byConn, ok := sr.index[resource]
	if !ok {
		return
	}
	byFilter, ok := byConn[connID]
	if !ok {
		return
	}
	delete(byFilter, fingerprint)
	if len(byFilter) == 0 {
		delete(byConn, connID)
	}
	if len(byConn) == 0 {
		delete(sr.index, resource)
	}
}

// RemoveConnection purges the connection from every collection bucket.
func (sr *SubscriptionRouter) RemoveConnection(connID string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	for resource, byConn := range sr.index {
		delete(byConn, connID)
		if len(byConn) == 0 {
			delete(sr.index, resource)
		}
	}
}

// SubscriptionCount reports how many filters the connection holds, across
// all collections.
func (sr *SubscriptionRouter) SubscriptionCount(connID string) int {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	count := 0
	for _, byConn := range sr.index {
		count += len(byConn[connID])
	}
	return count
}

// Match returns the connection ids a change event must reach, plus the
// record with the collection's protected fields removed. A connection with
// several filters on the collection is matched at most once. An empty
// subscriber set is a normal outcome, not an error.
func (sr *SubscriptionRouter) Match(resource string, event store.EventKind, record store.Record) ([]string, store.Record) {
	sr.mu.RLock()
	byConn := sr.index[resource]
	connIDs := make([]string, 0, len(byConn))
	for connID, byFilter := range byConn {
		for _, sub := range byFilter {
			if sub.Events != nil && !sub.Events[string(event)] {
				continue
			}
			if filterMatches(sub.Filter, record) {
				connIDs = append(connIDs, connID)
				break
			}
		}
	}
	sr.mu.RUnlock()

	return connIDs, sr.Redact(resource, record)
}

// Redact applies the collection's protected-field configuration.
func (sr *SubscriptionRouter) Redact(resource string, record store.Record) store.Record {
	if redactor, ok := sr.redactors[resource]; ok {
		return redactor.Apply(record)
	}
	return record
}

// filterMatches evaluates an equality filter. A filter key that is absent
// from the record is a non-match (fail closed). An empty filter matches
// everything.
func filterMatches(filter map[string]interface{}, record store.Record) bool {
	for key, want := range filter {
		got, ok := record[key]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// Fingerprint canonically serializes an equality filter so that key order
// never produces distinct subscriptions.
func Fingerprint(filter map[string]interface{}) string {
	if len(filter) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		key, _ := json.Marshal(k)
		value, _ := json.Marshal(filter[k])
		b.Write(key)
		b.WriteByte(':')
		b.Write(value)
	}
	b.WriteByte('}')
	return b.String()
}
