package engine

import (
	"context"
	"sync"
)

// Meta-property names used for change notifications when an object's
// aggregate state flips, alongside ordinary property names.
const (
	MetaIsValid = "IsValid"
	MetaIsBusy  = "IsBusy"
)

// RuleScope selects how far a forced rule run reaches.
type RuleScope int

const (
	// RuleScopeAll re-runs this object's rules and every child's rules.
	RuleScopeAll RuleScope = iota
	// RuleScopeSelf re-runs only this object's own rules.
	RuleScopeSelf
)

// Node is satisfied by *Object, *Entity and any consumer type embedding them.
type Node interface {
	base() *Object
}

// Object is the base reactive node: a property set, a rule set, a weak parent
// link and the pause/notification machinery. Consumer types embed Object (or
// Entity) by value and call Init before registering properties and rules.
//
// One object graph has a single logical owner; the engine performs no locking
// against concurrent external mutation. Asynchronous rule executions are the
// only internal overlap and their completions are serialized by the graph.
type Object struct {
	graph      *graph
	props      *PropertyManager
	rules      *RuleManager
	parent     *Object
	pauseCount int
	dead       bool
	tasks      taskSet

	listenerMu sync.Mutex
	listeners  []func(property string)

	lastValid bool
	lastBusy  bool
}

// NewObject creates a standalone validatable object.
func NewObject() *Object {
	o := &Object{}
	o.Init()
	return o
}

// Init prepares an embedded Object with its own graph and a fresh execution
// sequence. Must be called exactly once before the object is used.
func (o *Object) Init() {
	o.InitWithSequence(&Sequence{})
}

// InitWithSequence prepares the object using the given execution-id sequence.
func (o *Object) InitWithSequence(seq *Sequence) {
	o.graph = &graph{seq: seq}
	o.props = newPropertyManager(o)
	o.rules = newRuleManager(o)
	o.lastValid = true
}

func (o *Object) base() *Object { return o }

// AddProperty registers a new property. Panics on duplicate names; property
// sets are fixed at object setup time.
func (o *Object) AddProperty(name string) *Property {
	return o.props.add(name)
}

// AddChildProperty registers a property holding a child node (an object or a
// collection). The child joins this object's graph; object children get this
// object as parent.
func (o *Object) AddChildProperty(name string, child graphMember) *Property {
	p := o.props.add(name)
	p.value = child
	p.loaded = true
	child.adoptGraph(o.graph)
	if n, ok := child.(Node); ok {
		n.base().parent = o
	}
	return p
}

// Prop returns the named property, or nil if it was never registered.
func (o *Object) Prop(name string) *Property {
	return o.props.Get(name)
}

// Properties returns the object's property manager.
func (o *Object) Properties() *PropertyManager { return o.props }

// Rules returns the object's rule manager.
func (o *Object) Rules() *RuleManager { return o.rules }

// Parent returns the owning object, or nil for an aggregate root.
func (o *Object) Parent() *Object {
	o.graph.mu.Lock()
	defer o.graph.mu.Unlock()
	return o.parent
}

// Root walks the parent chain and returns the aggregate root, or nil when
// this object is itself the root.
func (o *Object) Root() *Object {
	o.graph.mu.Lock()
	defer o.graph.mu.Unlock()
	return o.rootLocked()
}

func (o *Object) rootLocked() *Object {
	if o.parent == nil {
		return nil
	}
	node := o.parent
	for node.parent != nil {
		node = node.parent
	}
	return node
}

// rootOrSelfLocked resolves the aggregate an object belongs to.
func (o *Object) rootOrSelfLocked() *Object {
	if r := o.rootLocked(); r != nil {
		return r
	}
	return o
}

// IsValid reports whether every own property and every child node is valid.
func (o *Object) IsValid() bool {
	o.graph.mu.Lock()
	defer o.graph.mu.Unlock()
	return o.props.validLocked()
}

// IsSelfValid reports validity of own properties only.
func (o *Object) IsSelfValid() bool {
	o.graph.mu.Lock()
	defer o.graph.mu.Unlock()
	return o.props.selfValidLocked()
}

// IsBusy reports whether asynchronous work is outstanding anywhere in the subtree.
func (o *Object) IsBusy() bool {
	o.graph.mu.Lock()
	defer o.graph.mu.Unlock()
	return o.props.busyLocked()
}

// IsSelfBusy reports busy state of own properties only.
func (o *Object) IsSelfBusy() bool {
	o.graph.mu.Lock()
	defer o.graph.mu.Unlock()
	return o.props.selfBusyLocked()
}

// Pause suspends rule dispatch and modified-flag marking until the returned
// resume function runs. Callers defer it so resumption happens on every exit
// path. Pauses nest.
func (o *Object) Pause() func() {
	o.graph.mu.Lock()
	o.pauseCount++
	o.graph.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			o.graph.mu.Lock()
			o.pauseCount--
			o.graph.mu.Unlock()
		})
	}
}

// IsPaused reports whether rule dispatch is currently suspended.
func (o *Object) IsPaused() bool {
	o.graph.mu.Lock()
	defer o.graph.mu.Unlock()
	return o.pauseCount > 0
}

// RunRules clears rule messages and re-runs every rule on this object, and on
// every child when scope is RuleScopeAll.
func (o *Object) RunRules(ctx context.Context, scope RuleScope) error {
	o.graph.mu.Lock()
	for _, n := range o.props.names {
		o.props.byName[n].clearRuleMessagesLocked()
	}
	children := o.props.childrenLocked()
	o.graph.mu.Unlock()

	if err := o.rules.runAll(ctx); err != nil {
		return err
	}
	if scope == RuleScopeAll {
		for _, c := range children {
			if err := c.reRunRules(ctx); err != nil {
				return err
			}
		}
	}
	o.refreshUp()
	return nil
}

// RunRulesFor re-runs only the rules triggered by one property.
func (o *Object) RunRulesFor(ctx context.Context, property string) error {
	if o.props.Get(property) == nil {
		return ErrUnknownProperty
	}
	err := o.rules.dispatch(ctx, property)
	o.refreshUp()
	return err
}

func (o *Object) reRunRules(ctx context.Context) error {
	return o.RunRules(ctx, RuleScopeAll)
}

// WaitForTasks blocks until every outstanding rule execution and property
// load in this subtree has completed. It returns the first unhandled error an
// asynchronous rule produced, if any. It is the only consistency point:
// IsValid and IsBusy are trustworthy immediately after it returns.
func (o *Object) WaitForTasks(ctx context.Context) error {
	for {
		sets := o.taskSets()
		idle := true
		for _, t := range sets {
			if !t.idleNow() {
				idle = false
			}
			if err := t.wait(ctx); err != nil {
				return err
			}
		}
		if idle {
			var firstErr error
			for _, t := range sets {
				if err := t.takeErr(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		}
	}
}

func (o *Object) taskSets() []*taskSet {
	o.graph.mu.Lock()
	defer o.graph.mu.Unlock()
	var sets []*taskSet
	o.collectTasks(&sets)
	return sets
}

// OnChange registers a listener fired with a property name (or MetaIsValid /
// MetaIsBusy) whenever that property's value, validity or busy state changes.
func (o *Object) OnChange(fn func(property string)) {
	o.listenerMu.Lock()
	o.listeners = append(o.listeners, fn)
	o.listenerMu.Unlock()
}

func (o *Object) notify(property string) {
	o.listenerMu.Lock()
	fns := make([]func(string), len(o.listeners))
	copy(fns, o.listeners)
	o.listenerMu.Unlock()
	for _, fn := range fns {
		fn(property)
	}
}

// refreshUp recomputes aggregate validity and busy state from this object to
// the root, firing meta-property notifications where the computed value
// actually flipped.
func (o *Object) refreshUp() {
	node := o
	for node != nil {
		node.graph.mu.Lock()
		v := node.props.validLocked()
		b := node.props.busyLocked()
		changedValid := v != node.lastValid
		changedBusy := b != node.lastBusy
		node.lastValid, node.lastBusy = v, b
		parent := node.parent
		node.graph.mu.Unlock()
		if changedValid {
			node.notify(MetaIsValid)
		}
		if changedBusy {
			node.notify(MetaIsBusy)
		}
		node = parent
	}
}

// graphMember implementation.

func (o *Object) validLocked() bool    { return o.props.validLocked() }
func (o *Object) busyLocked() bool     { return o.props.busyLocked() }
func (o *Object) modifiedLocked() bool { return o.props.modifiedLocked() }

func (o *Object) adoptGraph(g *graph) {
	o.graph = g
	for _, c := range o.props.childrenLocked() {
		c.adoptGraph(g)
	}
}

func (o *Object) collectTasks(out *[]*taskSet) {
	*out = append(*out, &o.tasks)
	for _, c := range o.props.childrenLocked() {
		c.collectTasks(out)
	}
}

// acceptChangesLocked clears modified flags over own properties and children.
func (o *Object) acceptChangesLocked() {
	for _, n := range o.props.names {
		o.props.byName[n].modified = false
	}
	for _, c := range o.props.childrenLocked() {
		if ac, ok := c.(interface{ acceptChangesLocked() }); ok {
			ac.acceptChangesLocked()
		}
	}
}
