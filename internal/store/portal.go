package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"anchor-backend/internal/engine"
	"anchor-backend/internal/instrument"
	"anchor-backend/internal/metadata"
)

// Portal drives the persistence lifecycle of metadata-driven aggregates:
// create, fetch-from-source, and aggregate save/delete. It is the only code
// that moves entities between lifecycle states: create leaves an entity New,
// fetch and a successful save leave it Clean, a persisted delete is terminal.
type Portal struct {
	store *Store
	reg   *metadata.Registry
}

func NewPortal(s *Store, reg *metadata.Registry) *Portal {
	return &Portal{store: s, reg: reg}
}

// Create returns a fresh aggregate root in the New state.
func (p *Portal) Create(name string) (*metadata.Instance, error) {
	return p.reg.NewInstance(name)
}

// Fetch loads an aggregate by primary key: the root row, then every child
// collection. Population happens under a pause through the silent load path,
// so nothing is marked modified and no rules fire mid-load; afterwards rules
// are re-run once so validity reflects the loaded data.
func (p *Portal) Fetch(ctx context.Context, name string, id any) (*metadata.Instance, error) {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "store", "portal", "portal.fetch")
	defer span.End()
	span.SetEntity(name, fmt.Sprint(id))

	def := p.reg.GetEntity(name)
	if def == nil {
		span.SetStatus("error")
		return nil, fmt.Errorf("unknown entity: %s", name)
	}
	inst, err := p.reg.NewInstance(name)
	if err != nil {
		span.SetStatus("error")
		return nil, err
	}

	row, err := QueryRow(ctx, p.store.DB,
		fmt.Sprintf("SELECT * FROM %s WHERE %s = %s", def.Table, def.PrimaryKey.Field, p.store.Dialect.Placeholder(1)),
		id)
	if err != nil {
		span.SetStatus("error")
		return nil, fmt.Errorf("fetch %s/%v: %w", name, id, err)
	}

	resume := inst.Pause()
	p.loadRow(inst, def, row)
	resume()

	for _, c := range def.Children {
		childDef := p.reg.GetEntity(c.Entity)
		if childDef == nil {
			span.SetStatus("error")
			return nil, fmt.Errorf("fetch %s: unknown child entity %s", name, c.Entity)
		}
		rows, err := QueryRows(ctx, p.store.DB,
			fmt.Sprintf("SELECT * FROM %s WHERE %s = %s", childDef.Table, c.ForeignKey, p.store.Dialect.Placeholder(1)),
			id)
		if err != nil {
			span.SetStatus("error")
			return nil, fmt.Errorf("fetch %s children %s: %w", name, c.Name, err)
		}
		list := inst.ChildList(c.Name)
		for _, childRow := range rows {
			member, err := p.reg.NewInstance(c.Entity)
			if err != nil {
				span.SetStatus("error")
				return nil, err
			}
			resume := member.Pause()
			p.loadRow(member, childDef, childRow)
			resume()
			member.MarkOld()
			if err := list.Add(member); err != nil {
				span.SetStatus("error")
				return nil, fmt.Errorf("fetch %s children %s: %w", name, c.Name, err)
			}
		}
	}

	inst.MarkOld()
	if err := inst.RunRules(ctx, engine.RuleScopeAll); err != nil {
		span.SetStatus("error")
		return nil, err
	}
	if err := inst.WaitForTasks(ctx); err != nil {
		span.SetStatus("error")
		return nil, err
	}
	span.SetStatus("ok")
	return inst, nil
}

// Save persists an aggregate in one transaction: pending child deletions,
// then inserts and updates for root and children by their lifecycle flags.
// On success the whole aggregate transitions to Clean and deletion
// bookkeeping is released. Saving a child directly fails with
// engine.ErrChildObject; an unsavable root with engine.ErrNotSavable.
func (p *Portal) Save(ctx context.Context, inst *metadata.Instance) error {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "store", "portal", "portal.save")
	defer span.End()
	def := inst.Def()
	span.SetEntity(def.Name, "")

	if err := inst.CheckSavable(); err != nil {
		span.SetStatus("error")
		return err
	}

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		span.SetStatus("error")
		return fmt.Errorf("begin save %s: %w", def.Name, err)
	}
	defer tx.Rollback()

	if err := p.saveRoot(ctx, tx, inst, def); err != nil {
		span.SetStatus("error")
		return err
	}
	rootID := inst.Prop(def.PrimaryKey.Field).Current()

	for _, c := range def.Children {
		childDef := p.reg.GetEntity(c.Entity)
		if childDef == nil {
			span.SetStatus("error")
			return fmt.Errorf("save %s: unknown child entity %s", def.Name, c.Entity)
		}
		list := inst.ChildList(c.Name)

		for _, item := range list.DeletedItems() {
			member, err := asInstance(item)
			if err != nil {
				span.SetStatus("error")
				return err
			}
			pk := member.Prop(childDef.PrimaryKey.Field).Current()
			if _, err := Exec(ctx, tx,
				fmt.Sprintf("DELETE FROM %s WHERE %s = %s", childDef.Table, childDef.PrimaryKey.Field, p.store.Dialect.Placeholder(1)),
				pk); err != nil {
				span.SetStatus("error")
				return fmt.Errorf("delete child %s: %w", c.Name, err)
			}
		}

		for _, item := range list.Items() {
			member, err := asInstance(item)
			if err != nil {
				span.SetStatus("error")
				return err
			}
			member.Prop(c.ForeignKey).LoadValue(rootID)
			if member.IsNew() {
				if err := p.insert(ctx, tx, member, childDef); err != nil {
					span.SetStatus("error")
					return fmt.Errorf("insert child %s: %w", c.Name, err)
				}
			} else if member.IsSelfModified() {
				if err := p.update(ctx, tx, member, childDef); err != nil {
					span.SetStatus("error")
					return fmt.Errorf("update child %s: %w", c.Name, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		span.SetStatus("error")
		return fmt.Errorf("commit save %s: %w", def.Name, err)
	}

	inst.MarkOld()
	span.SetStatus("ok")
	return nil
}

// Delete removes a persisted aggregate and its children, leaving the object
// terminal. Deleting a never-persisted aggregate only marks it dead.
func (p *Portal) Delete(ctx context.Context, inst *metadata.Instance) error {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, "store", "portal", "portal.delete")
	defer span.End()
	def := inst.Def()
	span.SetEntity(def.Name, "")

	if inst.IsChild() {
		span.SetStatus("error")
		return engine.ErrChildObject
	}
	if inst.IsNew() {
		inst.MarkDead()
		span.SetStatus("ok")
		return nil
	}

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		span.SetStatus("error")
		return fmt.Errorf("begin delete %s: %w", def.Name, err)
	}
	defer tx.Rollback()

	id := inst.Prop(def.PrimaryKey.Field).Current()
	for _, c := range def.Children {
		childDef := p.reg.GetEntity(c.Entity)
		if childDef == nil {
			span.SetStatus("error")
			return fmt.Errorf("delete %s: unknown child entity %s", def.Name, c.Entity)
		}
		if _, err := Exec(ctx, tx,
			fmt.Sprintf("DELETE FROM %s WHERE %s = %s", childDef.Table, c.ForeignKey, p.store.Dialect.Placeholder(1)),
			id); err != nil {
			span.SetStatus("error")
			return fmt.Errorf("delete children %s: %w", c.Name, err)
		}
	}
	if _, err := Exec(ctx, tx,
		fmt.Sprintf("DELETE FROM %s WHERE %s = %s", def.Table, def.PrimaryKey.Field, p.store.Dialect.Placeholder(1)),
		id); err != nil {
		span.SetStatus("error")
		return fmt.Errorf("delete %s: %w", def.Name, err)
	}
	if err := tx.Commit(); err != nil {
		span.SetStatus("error")
		return fmt.Errorf("commit delete %s: %w", def.Name, err)
	}

	inst.MarkDead()
	span.SetStatus("ok")
	return nil
}

func (p *Portal) saveRoot(ctx context.Context, tx Querier, inst *metadata.Instance, def *metadata.EntityDef) error {
	if inst.IsNew() {
		if err := p.insert(ctx, tx, inst, def); err != nil {
			return fmt.Errorf("insert %s: %w", def.Name, err)
		}
		return nil
	}
	if inst.IsSelfModified() {
		if err := p.update(ctx, tx, inst, def); err != nil {
			return fmt.Errorf("update %s: %w", def.Name, err)
		}
	}
	return nil
}

func (p *Portal) insert(ctx context.Context, tx Querier, inst *metadata.Instance, def *metadata.EntityDef) error {
	if def.PrimaryKey.Generated && def.PrimaryKey.Type == "uuid" {
		if inst.Prop(def.PrimaryKey.Field).Current() == nil {
			inst.Prop(def.PrimaryKey.Field).LoadValue(uuid.New().String())
		}
	}

	pb := p.store.Dialect.NewParamBuilder()
	var cols, phs []string
	for _, f := range def.Fields {
		v, ok := fieldValue(inst, def, f)
		if !ok {
			continue
		}
		cols = append(cols, f.Name)
		phs = append(phs, pb.Add(v))
	}
	sqlStr := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		def.Table, strings.Join(cols, ", "), strings.Join(phs, ", "))
	if _, err := Exec(ctx, tx, sqlStr, pb.Params()...); err != nil {
		return p.store.Dialect.MapError(err)
	}
	return nil
}

func (p *Portal) update(ctx context.Context, tx Querier, inst *metadata.Instance, def *metadata.EntityDef) error {
	pb := p.store.Dialect.NewParamBuilder()
	var sets []string
	for _, f := range def.Fields {
		if f.Name == def.PrimaryKey.Field {
			continue
		}
		v, ok := fieldValue(inst, def, f)
		if !ok {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s", f.Name, pb.Add(v)))
	}
	if len(sets) == 0 {
		return nil
	}
	where := pb.Add(inst.Prop(def.PrimaryKey.Field).Current())
	sqlStr := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		def.Table, strings.Join(sets, ", "), def.PrimaryKey.Field, where)
	n, err := Exec(ctx, tx, sqlStr, pb.Params()...)
	if err != nil {
		return p.store.Dialect.MapError(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// loadRow populates an instance's fields from a result row via the silent
// load path.
func (p *Portal) loadRow(inst *metadata.Instance, def *metadata.EntityDef, row map[string]any) {
	for _, f := range def.Fields {
		v, ok := row[f.Name]
		if !ok {
			continue
		}
		if f.Type == "json" {
			if s, isStr := v.(string); isStr {
				var parsed any
				if err := json.Unmarshal([]byte(s), &parsed); err == nil {
					v = parsed
				}
			}
		}
		inst.Prop(f.Name).LoadValue(v)
	}
}

// fieldValue extracts a field's current value for persistence. JSON fields
// are serialized; unset generated keys are skipped.
func fieldValue(inst *metadata.Instance, def *metadata.EntityDef, f metadata.Field) (any, bool) {
	v := inst.Prop(f.Name).Current()
	if v == nil && f.Name == def.PrimaryKey.Field {
		return nil, false
	}
	if f.Type == "json" && v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return string(b), true
	}
	return v, true
}

// asInstance narrows a collection member back to a metadata-driven instance.
func asInstance(n engine.EntityNode) (*metadata.Instance, error) {
	inst, ok := n.(*metadata.Instance)
	if !ok {
		return nil, fmt.Errorf("collection member is not a metadata instance")
	}
	return inst, nil
}
