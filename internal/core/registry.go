// WASession Go - WhatsApp Session Gateway
// Copyright (c) 2026 Nullpointer Dev
// Licensed under MIT License
// https://github.com/nullpointer-dev/wasession-go

package core

import (
	"context"
	"sync"
	"time"
)

// HandlerFunc is a persistent structural handler, registered against a
// path into decoded payloads (§4.3, §3 PendingAwait).
type HandlerFunc func(payload interface{})

// HandlerPath addresses a persistent handler by function name and an
// optional attribute key/value and child tag, e.g.
// ("action", "add", "last", "") for path ("action","add:last").
type HandlerPath struct {
	Function string
	AttrKey  string
	AttrVal  string
	ChildTag string
}

// Registry is the Correlation Registry of §4.3: it matches outgoing
// message tags and decoded notification shapes to waiting
// continuations and persistent handlers. One Registry belongs to
// exactly one Supervisor instance — there is no process-wide state.
type Registry struct {
	mu       sync.Mutex
	awaiters map[string]*awaiter
	handlers map[string]map[string]map[string]HandlerFunc // function -> subkey -> childTag -> handler
}

type awaiter struct {
	ch     chan awaitResult
	closed bool
}

type awaitResult struct {
	payload interface{}
	err     error
}

// NewRegistry constructs an empty Correlation Registry.
func NewRegistry() *Registry {
	return &Registry{
		awaiters: make(map[string]*awaiter),
		handlers: make(map[string]map[string]map[string]HandlerFunc),
	}
}

// AwaitTag registers a one-shot continuation for tag and blocks until
// a matching frame is dispatched, the context is cancelled, or timeout
// elapses (timeout <= 0 waits indefinitely). The entry is removed
// atomically on delivery, timeout, or cancellation — never delivered
// twice.
func (r *Registry) AwaitTag(ctx context.Context, tag string, timeout time.Duration) (interface{}, error) {
	a := &awaiter{ch: make(chan awaitResult, 1)}

	r.mu.Lock()
	r.awaiters[tag] = a
	r.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-a.ch:
		return res.payload, res.err
	case <-timeoutCh:
		r.removeAwaiter(tag, a)
		return nil, ErrTimeout
	case <-ctx.Done():
		r.removeAwaiter(tag, a)
		return nil, ErrCancelled
	}
}

func (r *Registry) removeAwaiter(tag string, a *awaiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.awaiters[tag]; ok && cur == a {
		delete(r.awaiters, tag)
	}
}

// RegisterHandler installs a persistent structural handler at path.
func (r *Registry) RegisterHandler(path HandlerPath, fn HandlerFunc) {
	subkey := handlerSubkey(path.AttrKey, path.AttrVal)

	r.mu.Lock()
	defer r.mu.Unlock()
	byFunc, ok := r.handlers[path.Function]
	if !ok {
		byFunc = make(map[string]map[string]HandlerFunc)
		r.handlers[path.Function] = byFunc
	}
	byChild, ok := byFunc[subkey]
	if !ok {
		byChild = make(map[string]HandlerFunc)
		byFunc[subkey] = byChild
	}
	byChild[path.ChildTag] = fn
}

// DeregisterHandler removes a previously-registered persistent handler.
func (r *Registry) DeregisterHandler(path HandlerPath) {
	subkey := handlerSubkey(path.AttrKey, path.AttrVal)

	r.mu.Lock()
	defer r.mu.Unlock()
	byFunc, ok := r.handlers[path.Function]
	if !ok {
		return
	}
	byChild, ok := byFunc[subkey]
	if !ok {
		return
	}
	delete(byChild, path.ChildTag)
	if len(byChild) == 0 {
		delete(byFunc, subkey)
	}
	if len(byFunc) == 0 {
		delete(r.handlers, path.Function)
	}
}

func handlerSubkey(key, val string) string {
	if key == "" {
		return ""
	}
	if val != "" {
		return key + ":" + val
	}
	return key
}

// Dispatch delivers a decoded frame to the registry per §4.3's
// resolution order: (1) exact tag, (2) structural match, (3) an
// "unhandled" fallback. Exact-tag matches are delivered at most once;
// structural handlers may fire on every matching dispatch. payload is
// either a *BinaryNode (post-validation frames) or the unmarshaled
// JSON value of a plaintext handshake frame; structural matching (2)
// only ever applies to the former.
func (r *Registry) Dispatch(tag string, payload interface{}, unhandled HandlerFunc) {
	if r.dispatchTag(tag, payload) {
		return
	}
	if node, ok := payload.(*BinaryNode); ok && node != nil {
		if r.dispatchStructural(node) {
			return
		}
	}
	if unhandled != nil {
		unhandled(payload)
	}
}

func (r *Registry) dispatchTag(tag string, payload interface{}) bool {
	r.mu.Lock()
	a, ok := r.awaiters[tag]
	if ok {
		delete(r.awaiters, tag)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	select {
	case a.ch <- awaitResult{payload: payload}:
	default:
	}
	return true
}

// dispatchStructural implements the attribute/child trie walk of
// §4.3. attrKeys iteration order MUST follow the payload's own
// ordered keys for determinism; BinaryNode.Attrs is a map, so this
// relies on the node additionally carrying insertion order via
// AttrOrder when produced by a decoder that preserves it. Decoders
// that don't preserve order (like the stock dictionary codec) fall
// back to Go's randomized map order, which only affects which
// *tied* candidate wins — a single unambiguous match is unaffected.
func (r *Registry) dispatchStructural(payload *BinaryNode) bool {
	r.mu.Lock()
	byFunc, ok := r.handlers[payload.Tag]
	if !ok {
		r.mu.Unlock()
		return false
	}
	// copy out keys while holding the lock, then run the chosen
	// handler unlocked so handlers may re-enter the registry.
	subkey, fn, found := selectStructuralHandler(byFunc, payload)
	_ = subkey
	r.mu.Unlock()

	if !found {
		return false
	}
	fn(payload)
	return true
}

func selectStructuralHandler(byFunc map[string]map[string]HandlerFunc, payload *BinaryNode) (string, HandlerFunc, bool) {
	var candidates map[string]HandlerFunc
	var subkey string

	for _, key := range attrOrder(payload) {
		val := payload.Attrs[key]
		if byChild, ok := byFunc[key+":"+val]; ok {
			candidates, subkey = byChild, key+":"+val
			break
		}
	}
	if candidates == nil {
		for _, key := range attrOrder(payload) {
			if byChild, ok := byFunc[key]; ok {
				candidates, subkey = byChild, key
				break
			}
		}
	}
	if candidates == nil {
		if byChild, ok := byFunc[""]; ok {
			candidates, subkey = byChild, ""
		}
	}
	if candidates == nil {
		return "", nil, false
	}

	childTag := payload.FirstChildTag()
	if fn, ok := candidates[childTag]; ok {
		return subkey, fn, true
	}
	if fn, ok := candidates[""]; ok {
		return subkey, fn, true
	}
	return subkey, nil, false
}

// attrOrder returns payload's attribute keys in AttrOrder if the
// decoder populated it, else in map iteration order.
func attrOrder(payload *BinaryNode) []string {
	if payload.AttrOrder != nil {
		return payload.AttrOrder
	}
	keys := make([]string, 0, len(payload.Attrs))
	for k := range payload.Attrs {
		keys = append(keys, k)
	}
	return keys
}
