package engine

import (
	"context"
	"fmt"
	"reflect"
)

// loadIdentity is the reserved rule-identity slot used for lazy-load
// failure messages.
const loadIdentity = "__load"

// Property is a named slot on a ValidatableObject. It holds the value, the
// broken-rule messages contributed per rule identity, a busy count covering
// in-flight asynchronous work, and the modified flag used by entity change
// tracking. All mutable state is guarded by the owner's graph mutex.
type Property struct {
	name        string
	displayName string
	owner       *Object
	value       any
	readOnly    bool
	modified    bool

	loader  func(context.Context) (any, error)
	loaded  bool
	loading chan struct{}

	busy       int
	messages   map[string][]Message
	identities []string
}

// Name returns the property name.
func (p *Property) Name() string { return p.name }

// DisplayName returns the human-facing name, falling back to the property name.
func (p *Property) DisplayName() string {
	if p.displayName != "" {
		return p.displayName
	}
	return p.name
}

// SetDisplayName sets the human-facing name. Returns p for chaining during setup.
func (p *Property) SetDisplayName(name string) *Property {
	p.displayName = name
	return p
}

// SetReadOnly marks the property as not settable through SetValue.
func (p *Property) SetReadOnly() *Property {
	p.readOnly = true
	return p
}

// IsReadOnly reports whether the property rejects SetValue.
func (p *Property) IsReadOnly() bool { return p.readOnly }

// SetLoader configures deferred population: the first Value call runs fn once
// and stores the result. A direct SetValue or LoadValue satisfies the load.
func (p *Property) SetLoader(fn func(context.Context) (any, error)) *Property {
	p.loader = fn
	return p
}

// IsLoaded reports whether a configured loader has run (or been bypassed by a write).
func (p *Property) IsLoaded() bool {
	p.owner.graph.mu.Lock()
	defer p.owner.graph.mu.Unlock()
	return p.loader == nil || p.loaded
}

// Current returns the stored value without triggering a lazy load.
func (p *Property) Current() any {
	p.owner.graph.mu.Lock()
	defer p.owner.graph.mu.Unlock()
	return p.value
}

// Value returns the property value, running the lazy loader on first access.
// Concurrent callers share a single in-flight load. A loader failure is
// converted into a message on the property; the attempt is not retried.
func (p *Property) Value(ctx context.Context) any {
	g := p.owner.graph
	g.mu.Lock()
	if p.loader == nil || p.loaded {
		v := p.value
		g.mu.Unlock()
		return v
	}
	if p.loading != nil {
		// Another caller owns the load; wait for it.
		ch := p.loading
		g.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
		}
		return p.Current()
	}

	ch := make(chan struct{})
	p.loading = ch
	p.busy++
	p.owner.tasks.begin()
	g.mu.Unlock()
	p.owner.notify(p.name)
	p.owner.refreshUp()

	v, err := p.loader(ctx)

	g.mu.Lock()
	p.loaded = true
	p.loading = nil
	if err != nil {
		p.setMessagesLocked(loadIdentity, []Message{{
			Property: p.name,
			Text:     fmt.Sprintf("Failed to load %s: %v", p.name, err),
		}})
	} else {
		p.value = v
	}
	p.busy--
	out := p.value
	g.mu.Unlock()
	close(ch)
	p.owner.notify(p.name)
	p.owner.refreshUp()
	p.owner.tasks.done(nil)
	return out
}

// SetValue writes a new value through the tracked path. Setting an equal
// value is a no-op: no rule dispatch, no notification. Otherwise the property
// and its owner are marked modified (unless paused) and the owner's rules for
// this property are dispatched before SetValue returns; asynchronous rules
// are scheduled and do not block.
func (p *Property) SetValue(ctx context.Context, v any) error {
	g := p.owner.graph
	g.mu.Lock()
	if p.owner.dead {
		g.mu.Unlock()
		return ErrTerminal
	}
	if p.readOnly {
		g.mu.Unlock()
		return fmt.Errorf("set %s: %w", p.name, ErrReadOnly)
	}
	if equalValues(p.value, v) {
		g.mu.Unlock()
		return nil
	}
	p.value = v
	p.loaded = true
	paused := p.owner.pauseCount > 0
	if !paused {
		p.modified = true
	}
	g.mu.Unlock()

	p.owner.notify(p.name)
	if paused {
		return nil
	}
	p.owner.refreshUp()
	return p.owner.rules.dispatch(ctx, p.name)
}

// LoadValue writes a value silently: no modified mark, no rule dispatch, no
// notification. Used when populating from a data source.
func (p *Property) LoadValue(v any) {
	p.owner.graph.mu.Lock()
	p.value = v
	p.loaded = true
	p.owner.graph.mu.Unlock()
}

// IsValid reports whether no rule currently holds a message against this property.
func (p *Property) IsValid() bool {
	p.owner.graph.mu.Lock()
	defer p.owner.graph.mu.Unlock()
	return p.validLocked()
}

// IsBusy reports whether an asynchronous rule execution or lazy load touching
// this property is outstanding.
func (p *Property) IsBusy() bool {
	p.owner.graph.mu.Lock()
	defer p.owner.graph.mu.Unlock()
	return p.busy > 0
}

// IsModified reports whether the property changed through SetValue since the
// owner was created, loaded or last saved.
func (p *Property) IsModified() bool {
	p.owner.graph.mu.Lock()
	defer p.owner.graph.mu.Unlock()
	return p.modified
}

// Messages returns every rule's current messages for this property, in the
// order the contributing rules first reported.
func (p *Property) Messages() []Message {
	p.owner.graph.mu.Lock()
	defer p.owner.graph.mu.Unlock()
	var out []Message
	for _, id := range p.identities {
		out = append(out, p.messages[id]...)
	}
	return out
}

func (p *Property) validLocked() bool {
	for _, id := range p.identities {
		if len(p.messages[id]) > 0 {
			return false
		}
	}
	return true
}

// setMessagesLocked replaces one rule identity's contribution. Passing an
// empty slice retracts it.
func (p *Property) setMessagesLocked(identity string, msgs []Message) {
	if len(msgs) == 0 {
		if _, ok := p.messages[identity]; ok {
			delete(p.messages, identity)
			for i, id := range p.identities {
				if id == identity {
					p.identities = append(p.identities[:i], p.identities[i+1:]...)
					break
				}
			}
		}
		return
	}
	if p.messages == nil {
		p.messages = make(map[string][]Message)
	}
	if _, ok := p.messages[identity]; !ok {
		p.identities = append(p.identities, identity)
	}
	p.messages[identity] = msgs
}

func (p *Property) clearMessagesLocked() {
	p.messages = nil
	p.identities = nil
}

// clearRuleMessagesLocked retracts every rule contribution but keeps a
// recorded lazy-load failure, since the load is not retried.
func (p *Property) clearRuleMessagesLocked() {
	load := p.messages[loadIdentity]
	p.messages = nil
	p.identities = nil
	if len(load) > 0 {
		p.setMessagesLocked(loadIdentity, load)
	}
}

// equalValues compares property values. DeepEqual covers slices and maps that
// arrive from JSON bodies as well as plain scalars.
func equalValues(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	return reflect.DeepEqual(a, b)
}
