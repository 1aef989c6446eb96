package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"anchor-backend/internal/engine"
	"anchor-backend/internal/instrument"
	"anchor-backend/internal/metadata"
	"anchor-backend/internal/store"
)

// Handler serves metadata-driven aggregates as documents: field values plus
// child collections, annotated with lifecycle state, validity and broken
// rule messages.
type Handler struct {
	store       *store.Store
	portal      *store.Portal
	registry    *metadata.Registry
	instr       instrument.Instrumenter
	ruleTimeout time.Duration
}

func NewHandler(s *store.Store, portal *store.Portal, reg *metadata.Registry, instr instrument.Instrumenter, ruleTimeoutMs int) *Handler {
	if instr == nil {
		instr = &instrument.NoopInstrumenter{}
	}
	return &Handler{
		store:       s,
		portal:      portal,
		registry:    reg,
		instr:       instr,
		ruleTimeout: time.Duration(ruleTimeoutMs) * time.Millisecond,
	}
}

// RegisterRoutes registers the aggregate document routes.
func RegisterRoutes(app *fiber.App, h *Handler, authMW fiber.Handler) {
	grp := app.Group("/api/data", authMW)
	grp.Get("/:entity", h.List)
	grp.Post("/:entity", h.Create)
	grp.Post("/:entity/validate", h.Validate)
	grp.Get("/:entity/:id", h.Get)
	grp.Put("/:entity/:id", h.Update)
	grp.Delete("/:entity/:id", h.Delete)
}

// List handles GET /api/data/:entity with basic pagination over root rows.
func (h *Handler) List(c *fiber.Ctx) error {
	def, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	plan, err := ParseQueryParams(c, def)
	if err != nil {
		return err
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	qr := BuildSelectSQL(plan, h.store.Dialect)
	rows, err := store.QueryRows(ctx, h.store.DB, qr.SQL, qr.Params...)
	if err != nil {
		return fmt.Errorf("list %s: %w", def.Name, err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	cr := BuildCountSQL(plan, h.store.Dialect)
	countRow, err := store.QueryRow(ctx, h.store.DB, cr.SQL, cr.Params...)
	if err != nil {
		return fmt.Errorf("count %s: %w", def.Name, err)
	}

	return c.JSON(fiber.Map{
		"data": rows,
		"meta": fiber.Map{
			"page":     plan.Page,
			"per_page": plan.PerPage,
			"total":    countRow["count"],
		},
	})
}

// Get handles GET /api/data/:entity/:id, returning the full aggregate.
func (h *Handler) Get(c *fiber.Ctx) error {
	def, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	inst, err := h.portal.Fetch(ctx, def.Name, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.document(inst)})
}

// Create handles POST /api/data/:entity. The body is an aggregate document:
// field values at the top level plus arrays under each child collection name.
// The aggregate is populated through the tracked path, validated to
// quiescence, and only saved when every rule passes.
func (h *Handler) Create(c *fiber.Ctx) error {
	def, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	body, err := parseBody(c)
	if err != nil {
		return err
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	inst, err := h.portal.Create(def.Name)
	if err != nil {
		return err
	}
	if err := h.apply(ctx, inst, body); err != nil {
		return err
	}
	if err := inst.RunRules(ctx, engine.RuleScopeAll); err != nil {
		return err
	}
	if err := h.checkValid(ctx, inst); err != nil {
		return err
	}
	if err := h.portal.Save(ctx, inst); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": h.document(inst)})
}

// Update handles PUT /api/data/:entity/:id. Child arrays are synchronized by
// primary key: known members are updated in place, absent ones become pending
// deletions, unknown ones are added as new children.
func (h *Handler) Update(c *fiber.Ctx) error {
	def, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	body, err := parseBody(c)
	if err != nil {
		return err
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	inst, err := h.portal.Fetch(ctx, def.Name, c.Params("id"))
	if err != nil {
		return err
	}
	if err := h.apply(ctx, inst, body); err != nil {
		return err
	}
	if err := h.checkValid(ctx, inst); err != nil {
		return err
	}
	if !inst.IsModified() {
		return c.JSON(fiber.Map{"data": h.document(inst)})
	}
	if err := h.portal.Save(ctx, inst); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.document(inst)})
}

// Delete handles DELETE /api/data/:entity/:id.
func (h *Handler) Delete(c *fiber.Ctx) error {
	def, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	inst, err := h.portal.Fetch(ctx, def.Name, c.Params("id"))
	if err != nil {
		return err
	}
	if err := h.portal.Delete(ctx, inst); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Deleted"})
}

// Validate handles POST /api/data/:entity/validate: runs the full rule set
// against the supplied document without persisting anything.
func (h *Handler) Validate(c *fiber.Ctx) error {
	def, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	body, err := parseBody(c)
	if err != nil {
		return err
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	inst, err := h.portal.Create(def.Name)
	if err != nil {
		return err
	}
	if err := h.apply(ctx, inst, body); err != nil {
		return err
	}
	if err := inst.RunRules(ctx, engine.RuleScopeAll); err != nil {
		return err
	}
	if err := inst.WaitForTasks(ctx); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"is_valid": inst.IsValid(),
		"messages": h.brokenRules(inst, ""),
	}})
}

// --- helpers ---

func (h *Handler) resolveEntity(c *fiber.Ctx) (*metadata.EntityDef, error) {
	name := c.Params("entity")
	def := h.registry.GetEntity(name)
	if def == nil {
		return nil, UnknownEntityError(name)
	}
	return def, nil
}

// ctx builds the request context with tracing attached and the rule timeout
// applied. The caller defers the cancel func.
func (h *Handler) ctx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	ctx := c.UserContext()
	ctx = instrument.WithInstrumenter(ctx, h.instr)
	traceID := c.Get("X-Trace-Id")
	if traceID == "" {
		traceID = uuid.New().String()
	}
	return h.opContext(instrument.WithTraceID(ctx, traceID))
}

// opContext bounds an operation with the configured rule timeout, so a stuck
// asynchronous rule observes cancellation instead of pinning the request.
func (h *Handler) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.ruleTimeout > 0 {
		return context.WithTimeout(ctx, h.ruleTimeout)
	}
	return context.WithCancel(ctx)
}

func parseBody(c *fiber.Ctx) (map[string]any, error) {
	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return nil, NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	return body, nil
}

// apply pushes a document into an aggregate through the tracked write path.
// Field writes dispatch rules; child arrays are synchronized by primary key.
func (h *Handler) apply(ctx context.Context, inst *metadata.Instance, body map[string]any) error {
	def := inst.Def()

	for _, f := range def.WritableFields() {
		v, ok := body[f.Name]
		if !ok {
			continue
		}
		if err := inst.Prop(f.Name).SetValue(ctx, v); err != nil {
			return err
		}
	}

	for _, cd := range def.Children {
		raw, ok := body[cd.Name]
		if !ok {
			continue
		}
		arr, ok := raw.([]any)
		if !ok {
			return NewAppError("INVALID_PAYLOAD", 400,
				fmt.Sprintf("%s must be an array", cd.Name))
		}
		if err := h.applyChildren(ctx, inst, cd, arr); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) applyChildren(ctx context.Context, inst *metadata.Instance, cd metadata.ChildDef, arr []any) error {
	childDef := h.registry.GetEntity(cd.Entity)
	if childDef == nil {
		return fmt.Errorf("unknown child entity %s", cd.Entity)
	}
	list := inst.ChildList(cd.Name)
	pkField := childDef.PrimaryKey.Field

	existing := map[string]*metadata.Instance{}
	for _, n := range list.Items() {
		member, ok := n.(*metadata.Instance)
		if !ok {
			continue
		}
		if pk := member.Prop(pkField).Current(); pk != nil {
			existing[fmt.Sprint(pk)] = member
		}
	}

	seen := map[string]bool{}
	for _, el := range arr {
		doc, ok := el.(map[string]any)
		if !ok {
			return NewAppError("INVALID_PAYLOAD", 400,
				fmt.Sprintf("%s items must be objects", cd.Name))
		}
		if pk, has := doc[pkField]; has && pk != nil {
			if member, found := existing[fmt.Sprint(pk)]; found {
				seen[fmt.Sprint(pk)] = true
				if err := h.apply(ctx, member, doc); err != nil {
					return err
				}
				continue
			}
		}
		member, err := h.registry.NewChildInstance(inst.Def(), cd.Name)
		if err != nil {
			return err
		}
		if err := list.Add(member); err != nil {
			return err
		}
		if err := h.apply(ctx, member, doc); err != nil {
			return err
		}
	}

	for pk, member := range existing {
		if !seen[pk] {
			list.Remove(member)
		}
	}
	return nil
}

// checkValid waits for pending async work and converts broken rules into a
// 422 validation error.
func (h *Handler) checkValid(ctx context.Context, inst *metadata.Instance) error {
	if err := inst.WaitForTasks(ctx); err != nil {
		return err
	}
	if inst.IsValid() {
		return nil
	}
	return ValidationError(h.brokenRules(inst, ""))
}

// brokenRules flattens every failing message in the aggregate, prefixing
// child properties with their collection path.
func (h *Handler) brokenRules(inst *metadata.Instance, prefix string) []ErrorDetail {
	def := inst.Def()
	var details []ErrorDetail

	for _, f := range def.Fields {
		for _, m := range inst.Prop(f.Name).Messages() {
			details = append(details, ErrorDetail{
				Property: prefix + m.Property,
				Message:  m.Text,
			})
		}
	}
	for _, cd := range def.Children {
		list := inst.ChildList(cd.Name)
		for i, n := range list.Items() {
			member, ok := n.(*metadata.Instance)
			if !ok {
				continue
			}
			childPrefix := fmt.Sprintf("%s%s[%d].", prefix, cd.Name, i)
			details = append(details, h.brokenRules(member, childPrefix)...)
		}
	}
	return details
}

// document renders an aggregate as a response document.
func (h *Handler) document(inst *metadata.Instance) fiber.Map {
	def := inst.Def()

	values := fiber.Map{}
	for _, f := range def.Fields {
		values[f.Name] = inst.Prop(f.Name).Current()
	}

	children := fiber.Map{}
	for _, cd := range def.Children {
		list := inst.ChildList(cd.Name)
		items := []fiber.Map{}
		for _, n := range list.Items() {
			if member, ok := n.(*metadata.Instance); ok {
				items = append(items, h.document(member))
			}
		}
		children[cd.Name] = items
	}

	doc := fiber.Map{
		"values":      values,
		"state":       inst.State(),
		"is_new":      inst.IsNew(),
		"is_modified": inst.IsModified(),
		"is_valid":    inst.IsValid(),
		"is_busy":     inst.IsBusy(),
	}
	if len(def.Children) > 0 {
		doc["children"] = children
	}
	if msgs := h.brokenRules(inst, ""); len(msgs) > 0 {
		doc["messages"] = msgs
	}
	return doc
}
