package engine

import (
	"context"
	"errors"
	"sort"

	"anchor-backend/internal/instrument"
)

type ruleEntry struct {
	rule Rule
	seq  int
}

// RuleManager owns the ordered rule list for one object and dispatches rules
// when trigger properties change. Synchronous rules run inline; asynchronous
// rules are scheduled on their own goroutines with busy-count bookkeeping on
// their trigger properties. Each rule's messages are merged per (property ×
// rule identity): a completion replaces only that rule's prior contribution,
// so independently finishing rules never erase each other's messages.
type RuleManager struct {
	owner     *Object
	entries   []*ruleEntry
	byTrigger map[string][]*ruleEntry
	nextSeq   int
}

func newRuleManager(owner *Object) *RuleManager {
	return &RuleManager{owner: owner, byTrigger: make(map[string][]*ruleEntry)}
}

// Add registers a rule. Rules start in Order-then-registration sequence.
// The rule must implement SyncRule or AsyncRule and carry at least one
// trigger property.
func (rm *RuleManager) Add(r Rule) {
	switch r.(type) {
	case SyncRule, AsyncRule:
	default:
		panic("engine: rule " + r.Identity() + " implements neither SyncRule nor AsyncRule")
	}
	if len(r.Triggers()) == 0 {
		panic("engine: rule " + r.Identity() + " has no trigger properties")
	}
	e := &ruleEntry{rule: r, seq: rm.nextSeq}
	rm.nextSeq++
	rm.entries = append(rm.entries, e)
	sortEntries(rm.entries)
	for _, t := range r.Triggers() {
		rm.byTrigger[t] = append(rm.byTrigger[t], e)
		sortEntries(rm.byTrigger[t])
	}
}

// Rules returns the registered rules in dispatch order.
func (rm *RuleManager) Rules() []Rule {
	out := make([]Rule, len(rm.entries))
	for i, e := range rm.entries {
		out[i] = e.rule
	}
	return out
}

func sortEntries(entries []*ruleEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].rule.Order() != entries[j].rule.Order() {
			return entries[i].rule.Order() < entries[j].rule.Order()
		}
		return entries[i].seq < entries[j].seq
	})
}

// dispatch runs every rule triggered by the named property.
func (rm *RuleManager) dispatch(ctx context.Context, property string) error {
	return rm.run(ctx, rm.byTrigger[property])
}

// runAll runs every registered rule once.
func (rm *RuleManager) runAll(ctx context.Context) error {
	return rm.run(ctx, rm.entries)
}

func (rm *RuleManager) run(ctx context.Context, entries []*ruleEntry) error {
	inst := instrument.GetInstrumenter(ctx)
	for _, e := range entries {
		switch r := e.rule.(type) {
		case SyncRule:
			_, span := inst.StartSpan(ctx, "engine", "rules", "rules.run")
			span.SetMetadata("rule", r.Identity())
			msgs, err := r.Run(ctx, rm.owner)
			if err != nil {
				if !isCancelled(err) {
					span.SetStatus("error")
					span.End()
					return err
				}
				msgs = []Message{{Property: primaryTrigger(r), Text: CancelledText}}
				span.SetStatus("cancelled")
			} else {
				span.SetStatus("ok")
			}
			rm.applyResult(r, msgs, false)
			span.End()
		case AsyncRule:
			rm.scheduleAsync(ctx, r)
		}
	}
	return nil
}

// scheduleAsync increments busy counts on the rule's trigger properties and
// launches the execution. The triggering caller is not blocked; completion is
// reconciled whenever it physically lands. Overlapping executions of the same
// rule are neither cancelled nor sequenced; the last one to finish owns the
// rule's message slot.
func (rm *RuleManager) scheduleAsync(ctx context.Context, r AsyncRule) {
	o := rm.owner
	g := o.graph
	g.mu.Lock()
	execID := g.seq.Next()
	for _, t := range r.Triggers() {
		if p := o.props.byName[t]; p != nil {
			p.busy++
		}
	}
	g.mu.Unlock()
	o.tasks.begin()
	for _, t := range r.Triggers() {
		o.notify(t)
	}
	o.refreshUp()

	go func() {
		inst := instrument.GetInstrumenter(ctx)
		_, span := inst.StartSpan(ctx, "engine", "rules", "rules.run_async")
		span.SetMetadata("rule", r.Identity())
		span.SetMetadata("execution_id", execID)
		msgs, err := r.RunAsync(ctx, o)
		if err != nil {
			if isCancelled(err) {
				msgs = []Message{{Property: primaryTrigger(r), Text: CancelledText}}
				err = nil
				span.SetStatus("cancelled")
			} else {
				span.SetStatus("error")
			}
		} else {
			span.SetStatus("ok")
		}
		span.End()
		rm.applyResult(r, msgs, true)
		o.tasks.done(err)
	}()
}

// applyResult merges one execution's messages: retract the rule's previous
// contribution from every property, insert the new messages on the properties
// they name, then release busy counts when the execution was asynchronous.
// Change notifications fire only for properties whose validity or busy state
// actually changed.
func (rm *RuleManager) applyResult(r Rule, msgs []Message, releaseBusy bool) {
	o := rm.owner
	g := o.graph
	g.mu.Lock()

	before := make(map[string][2]bool, len(o.props.names))
	for _, n := range o.props.names {
		p := o.props.byName[n]
		before[n] = [2]bool{p.validLocked(), p.busy > 0}
	}

	for _, n := range o.props.names {
		o.props.byName[n].setMessagesLocked(r.Identity(), nil)
	}
	byProp := make(map[string][]Message)
	for _, m := range msgs {
		name := m.Property
		if name == "" || o.props.byName[name] == nil {
			name = primaryTrigger(r)
			m.Property = name
		}
		byProp[name] = append(byProp[name], m)
	}
	for name, ms := range byProp {
		o.props.byName[name].setMessagesLocked(r.Identity(), ms)
	}

	if releaseBusy {
		for _, t := range r.Triggers() {
			if p := o.props.byName[t]; p != nil {
				p.busy--
			}
		}
	}

	var changed []string
	for _, n := range o.props.names {
		p := o.props.byName[n]
		if before[n] != [2]bool{p.validLocked(), p.busy > 0} {
			changed = append(changed, n)
		}
	}
	g.mu.Unlock()

	for _, n := range changed {
		o.notify(n)
	}
	o.refreshUp()
}

func primaryTrigger(r Rule) string {
	return r.Triggers()[0]
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
