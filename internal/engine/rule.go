package engine

import "context"

// Rule is a unit of validation or side-effect logic bound to a fixed set of
// trigger properties. Identity must be deterministic: it correlates a rule's
// message contributions across independent recreations of the same object
// (for example after a network round-trip), so runtime-generated ids are not
// acceptable.
//
// A Rule must also implement SyncRule or AsyncRule.
type Rule interface {
	Identity() string
	Triggers() []string
	Order() int
}

// SyncRule executes inline before the triggering set returns.
type SyncRule interface {
	Rule
	Run(ctx context.Context, obj *Object) ([]Message, error)
}

// AsyncRule is scheduled on its own goroutine; the triggering set returns
// immediately. The rule should observe ctx for cooperative cancellation.
type AsyncRule interface {
	Rule
	RunAsync(ctx context.Context, obj *Object) ([]Message, error)
}

// FuncRule adapts a plain function into a synchronous Rule.
type FuncRule struct {
	identity string
	triggers []string
	order    int
	fn       func(ctx context.Context, obj *Object) ([]Message, error)
}

// NewRule creates a synchronous rule over fn. The trigger set must be non-empty.
func NewRule(identity string, triggers []string, fn func(ctx context.Context, obj *Object) ([]Message, error)) *FuncRule {
	if len(triggers) == 0 {
		panic("engine: rule " + identity + " has no trigger properties")
	}
	return &FuncRule{identity: identity, triggers: triggers, fn: fn}
}

// WithOrder sets the dispatch order (lower runs earlier, default 0).
func (r *FuncRule) WithOrder(n int) *FuncRule {
	r.order = n
	return r
}

func (r *FuncRule) Identity() string   { return r.identity }
func (r *FuncRule) Triggers() []string { return r.triggers }
func (r *FuncRule) Order() int         { return r.order }

func (r *FuncRule) Run(ctx context.Context, obj *Object) ([]Message, error) {
	return r.fn(ctx, obj)
}

// AsyncFuncRule adapts a plain function into an asynchronous Rule.
type AsyncFuncRule struct {
	identity string
	triggers []string
	order    int
	fn       func(ctx context.Context, obj *Object) ([]Message, error)
}

// NewAsyncRule creates an asynchronous rule over fn.
func NewAsyncRule(identity string, triggers []string, fn func(ctx context.Context, obj *Object) ([]Message, error)) *AsyncFuncRule {
	if len(triggers) == 0 {
		panic("engine: rule " + identity + " has no trigger properties")
	}
	return &AsyncFuncRule{identity: identity, triggers: triggers, fn: fn}
}

// WithOrder sets the dispatch order (lower runs earlier, default 0).
func (r *AsyncFuncRule) WithOrder(n int) *AsyncFuncRule {
	r.order = n
	return r
}

func (r *AsyncFuncRule) Identity() string   { return r.identity }
func (r *AsyncFuncRule) Triggers() []string { return r.triggers }
func (r *AsyncFuncRule) Order() int         { return r.order }

func (r *AsyncFuncRule) RunAsync(ctx context.Context, obj *Object) ([]Message, error) {
	return r.fn(ctx, obj)
}
