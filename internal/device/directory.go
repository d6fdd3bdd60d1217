package device

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Directory.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// defaultOfflineAfter is the number of consecutive inventories a device
// may be missing from before it is marked offline.
const defaultOfflineAfter = 2

// Directory is the authoritative in-process view of every known device.
//
// All mutation goes through Merge (UpsertFromInventory and
// ExpireOptimistic are built on the same per-property rules) under a
// single lock, so concurrent writers never interleave within a record.
// Reads return deep copies.
//
// All public methods are thread-safe.
type Directory struct {
	mu      sync.Mutex
	records map[string]*Record
	dirty   map[string]struct{}

	subs    map[uint64]*Subscription
	nextSub uint64

	store        Store
	offlineAfter int
	logger       Logger
}

// NewDirectory creates an empty Directory backed by store.
// A nil store disables Hydrate and Persist.
func NewDirectory(store Store) *Directory {
	return &Directory{
		records:      make(map[string]*Record),
		dirty:        make(map[string]struct{}),
		subs:         make(map[uint64]*Subscription),
		store:        store,
		offlineAfter: defaultOfflineAfter,
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for the Directory.
func (d *Directory) SetLogger(logger Logger) {
	d.mu.Lock()
	d.logger = logger
	d.mu.Unlock()
}

// =============================================================================
// Reads
// =============================================================================

// Snapshot returns a copy of one record, or ErrNotFound.
func (d *Directory) Snapshot(serial string) (Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[serial]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, serial)
	}
	return rec.Clone(), nil
}

// ListAll returns copies of every record, ordered by serial.
func (d *Directory) ListAll() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Record, 0, len(d.records))
	for _, serial := range slices.Sorted(maps.Keys(d.records)) {
		out = append(out, d.records[serial].Clone())
	}
	return out
}

// Len returns the number of records.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

// Subscribe returns a subscription to changes emitted from now on.
// Callers that need the current state call ListAll first.
func (d *Directory) Subscribe() *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextSub++
	sub := newSubscription(d, d.nextSub)
	d.subs[sub.id] = sub
	return sub
}

func (d *Directory) unsubscribe(id uint64) {
	d.mu.Lock()
	delete(d.subs, id)
	d.mu.Unlock()
}

// =============================================================================
// Merge
// =============================================================================

// Merge applies property updates observed at ts from source to the record
// identified by serial.
//
// Per property, an update is applied when:
//   - the property has no stored value, or
//   - it is authoritative (poll/push) and the stored value is optimistic,
//     whatever the timestamps, or
//   - ts is strictly newer than the stored timestamp, or
//   - timestamps are equal, the update is authoritative and it wins the
//     tie: push over poll, then the greater value.
//
// Optimistic updates only ever apply when strictly newer. Re-applying an
// identical merge reports no changes. Properties whose type does not match
// are skipped and reported in Rejected.
//
// Returns ErrInvalidSerial for an empty serial and ErrNotFound for a serial
// that never appeared in an inventory.
func (d *Directory) Merge(serial string, updates map[string]Value, ts time.Time, source Source) (MergeResult, error) {
	if serial == "" {
		return MergeResult{}, ErrInvalidSerial
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[serial]
	if !ok {
		return MergeResult{Serial: serial}, fmt.Errorf("%w: %s", ErrNotFound, serial)
	}

	res := d.applyLocked(rec, updates, ts, source, time.Time{})
	if res.HasChanges() {
		d.emitLocked(rec, res.Changed, false, source)
	}
	return res, nil
}

// MergeOptimistic merges state implied by a successful command. The values
// are valid until expiresAt; authoritative updates replace them earlier.
func (d *Directory) MergeOptimistic(serial string, updates map[string]Value, ts, expiresAt time.Time) (MergeResult, error) {
	if serial == "" {
		return MergeResult{}, ErrInvalidSerial
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[serial]
	if !ok {
		return MergeResult{Serial: serial}, fmt.Errorf("%w: %s", ErrNotFound, serial)
	}

	res := d.applyLocked(rec, updates, ts, SourceOptimistic, expiresAt)
	if res.HasChanges() {
		d.emitLocked(rec, res.Changed, false, SourceOptimistic)
	}
	return res, nil
}

// applyLocked runs the per-property merge rules against rec.
func (d *Directory) applyLocked(rec *Record, updates map[string]Value, ts time.Time, source Source, expiresAt time.Time) MergeResult {
	res := MergeResult{Serial: rec.Serial}
	applied := false

	for _, name := range slices.Sorted(maps.Keys(updates)) {
		v, err := d.checkType(rec, name, updates[name])
		if err != nil {
			if res.Rejected == nil {
				res.Rejected = make(map[string]error)
			}
			res.Rejected[name] = err
			d.logger.Warn("property update rejected",
				"serial", rec.Serial, "property", name, "error", err)
			continue
		}

		cur, exists := rec.Properties[name]
		if exists && source.authoritative() && cur.Source == SourceOptimistic && cur.prior != nil {
			// The optimistic value is dropped either way; the update still
			// has to beat the authoritative value underneath it.
			prior := *cur.prior
			if !wins(prior, v, ts, source) {
				rec.Properties[name] = prior
				d.dirty[rec.Serial] = struct{}{}
				if !prior.Value.Equal(cur.Value) {
					res.Changed = append(res.Changed, name)
				}
				continue
			}
		}
		if exists && !wins(cur, v, ts, source) {
			continue
		}

		next := Property{Value: v, UpdatedAt: ts, Source: source}
		if source == SourceOptimistic {
			next.ExpiresAt = expiresAt
			switch {
			case !exists:
			case cur.Source == SourceOptimistic:
				next.prior = cur.prior
			default:
				prior := cur
				next.prior = &prior
			}
		}

		if rec.Properties == nil {
			rec.Properties = make(map[string]Property)
		}
		rec.Properties[name] = next
		applied = true

		if !exists || !cur.Value.Equal(v) {
			res.Changed = append(res.Changed, name)
		}
	}

	if applied {
		if ts.After(rec.UpdatedAt) {
			rec.UpdatedAt = ts
		}
		rec.Source = source
		d.dirty[rec.Serial] = struct{}{}
	}
	return res
}

// wins decides whether an update (v, ts, source) replaces cur. An
// authoritative update always displaces an optimistic value; applyLocked
// first checks it against the value the optimistic one shadows.
func wins(cur Property, v Value, ts time.Time, source Source) bool {
	if source.authoritative() && cur.Source == SourceOptimistic {
		return true
	}
	switch {
	case ts.After(cur.UpdatedAt):
		return true
	case ts.Before(cur.UpdatedAt):
		return false
	}
	if !source.authoritative() {
		return false
	}
	if source.rank() != cur.Source.rank() {
		return source.rank() > cur.Source.rank()
	}
	return v.key() > cur.Value.key()
}

// checkType validates v against the property schema, or against the stored
// value's type for properties outside the schema.
func (d *Directory) checkType(rec *Record, name string, v Value) (Value, error) {
	if !v.IsValid() {
		return Value{}, fmt.Errorf("%w: %s has no value", ErrTypeMismatch, name)
	}
	want, ok := propertySchema[name]
	if !ok {
		cur, exists := rec.Properties[name]
		if !exists {
			return v, nil
		}
		want = cur.Value.Type()
	}
	out, ok := coerce(v, want)
	if !ok {
		return Value{}, fmt.Errorf("%w: %s wants %s, got %s", ErrTypeMismatch, name, want, v.Type())
	}
	return out, nil
}

// emitLocked fans an event out to every subscriber.
func (d *Directory) emitLocked(rec *Record, changed []string, added bool, source Source) {
	if len(d.subs) == 0 {
		return
	}
	ev := ChangeEvent{
		Serial:  rec.Serial,
		Changed: slices.Clone(changed),
		Added:   added,
		Source:  source,
		Record:  rec.Clone(),
	}
	for _, sub := range d.subs {
		sub.deliver(ev)
	}
}

// =============================================================================
// Inventory reconciliation
// =============================================================================

// UpsertFromInventory reconciles a full cloud inventory fetched at fetchedAt.
//
// Unseen devices are added. Known devices take the item's metadata and its
// properties as poll updates at fetchedAt; every listed device is also
// reported online. Devices missing from the inventory are marked
// online=false once they have been missing from two consecutive
// inventories, never after one.
func (d *Directory) UpsertFromInventory(items []InventoryItem, fetchedAt time.Time) InventoryResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	var res InventoryResult
	seen := make(map[string]struct{}, len(items))

	for _, item := range items {
		if item.Serial == "" {
			continue
		}
		seen[item.Serial] = struct{}{}

		props := make(map[string]Value, len(item.Properties)+1)
		maps.Copy(props, item.Properties)
		if _, ok := props[PropOnline]; !ok {
			props[PropOnline] = BoolValue(true)
		}

		rec, known := d.records[item.Serial]
		if !known {
			rec = d.addLocked(item)
			res.Added = append(res.Added, item.Serial)
			if !rec.Supported {
				res.Unsupported = append(res.Unsupported, item.Serial)
			}
			d.applyLocked(rec, props, fetchedAt, SourcePoll, time.Time{})
			d.dirty[rec.Serial] = struct{}{}
			d.emitLocked(rec, rec.PropertyNames(), true, SourcePoll)
			continue
		}

		metaChanged := d.updateMetaLocked(rec, item)
		rec.MissedPolls = 0
		mr := d.applyLocked(rec, props, fetchedAt, SourcePoll, time.Time{})
		if mr.HasChanges() || metaChanged {
			res.Updated = append(res.Updated, item.Serial)
			d.dirty[rec.Serial] = struct{}{}
			d.emitLocked(rec, mr.Changed, false, SourcePoll)
		}
	}

	for _, serial := range slices.Sorted(maps.Keys(d.records)) {
		if _, ok := seen[serial]; ok {
			continue
		}
		rec := d.records[serial]
		rec.MissedPolls++
		d.dirty[serial] = struct{}{}
		if rec.MissedPolls < d.offlineAfter {
			continue
		}
		mr := d.applyLocked(rec, map[string]Value{PropOnline: BoolValue(false)}, fetchedAt, SourcePoll, time.Time{})
		if mr.HasChanges() {
			res.MarkedOffline = append(res.MarkedOffline, serial)
			d.emitLocked(rec, mr.Changed, false, SourcePoll)
			d.logger.Info("device marked offline", "serial", serial, "missed_polls", rec.MissedPolls)
		}
	}

	return res
}

func (d *Directory) addLocked(item InventoryItem) *Record {
	model, known := LookupModel(item.Model)
	rec := &Record{
		Serial:        item.Serial,
		Name:          item.Name,
		Model:         item.Model,
		Kind:          model.Kind,
		Supported:     model.Supported,
		StationSerial: item.StationSerial,
		Address:       item.Address,
		Properties:    make(map[string]Property),
	}
	d.records[item.Serial] = rec

	if !model.Supported {
		d.logger.Warn("unsupported device model, tracking without command support",
			"serial", item.Serial,
			"model", item.Model,
			"known_model", known,
			"error", ErrUnsupportedModel,
		)
	}
	return rec
}

func (d *Directory) updateMetaLocked(rec *Record, item InventoryItem) bool {
	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&rec.Name, item.Name)
	set(&rec.StationSerial, item.StationSerial)
	set(&rec.Address, item.Address)
	if item.Model != "" && item.Model != rec.Model {
		model, _ := LookupModel(item.Model)
		rec.Model = item.Model
		rec.Kind = model.Kind
		rec.Supported = model.Supported
		changed = true
	}
	return changed
}

// =============================================================================
// Optimistic expiry
// =============================================================================

// ExpireOptimistic reverts optimistic values whose validity ended before
// now to the authoritative value they shadowed, or removes them when they
// shadowed nothing. It returns the number of properties reverted.
func (d *Directory) ExpireOptimistic(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	reverted := 0
	for _, serial := range slices.Sorted(maps.Keys(d.records)) {
		rec := d.records[serial]
		var changed []string
		for _, name := range rec.PropertyNames() {
			p := rec.Properties[name]
			if p.Source != SourceOptimistic || p.ExpiresAt.IsZero() || p.ExpiresAt.After(now) {
				continue
			}
			if p.prior != nil {
				rec.Properties[name] = *p.prior
				if !p.prior.Value.Equal(p.Value) {
					changed = append(changed, name)
				}
			} else {
				delete(rec.Properties, name)
				changed = append(changed, name)
			}
			reverted++
		}
		if len(changed) > 0 {
			d.dirty[serial] = struct{}{}
			d.emitLocked(rec, changed, false, SourceOptimistic)
			d.logger.Debug("optimistic state expired", "serial", serial, "properties", changed)
		}
	}
	return reverted
}

// =============================================================================
// Persistence
// =============================================================================

// Hydrate loads the stored snapshot. Records already present are kept;
// no change events are emitted.
func (d *Directory) Hydrate(ctx context.Context) (int, error) {
	if d.store == nil {
		return 0, nil
	}
	records, err := d.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading device records: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for i := range records {
		rec := records[i].Clone()
		if rec.Serial == "" {
			continue
		}
		if _, exists := d.records[rec.Serial]; exists {
			continue
		}
		if rec.Model != "" {
			model, _ := LookupModel(rec.Model)
			rec.Kind = model.Kind
			rec.Supported = model.Supported
		}
		d.records[rec.Serial] = &rec
		n++
	}
	d.logger.Info("device directory hydrated", "count", n)
	return n, nil
}

// Persist saves records changed since the last Persist. With all set,
// every record is saved. Optimistic values are never written; the value
// they shadow is saved instead.
func (d *Directory) Persist(ctx context.Context, all bool) (int, error) {
	if d.store == nil {
		return 0, nil
	}

	d.mu.Lock()
	var batch []Record
	for serial, rec := range d.records {
		if _, dirty := d.dirty[serial]; all || dirty {
			batch = append(batch, rec.authoritative())
		}
	}
	clear(d.dirty)
	d.mu.Unlock()

	sort.Slice(batch, func(i, j int) bool { return batch[i].Serial < batch[j].Serial })

	for i, rec := range batch {
		if err := d.store.Save(ctx, rec); err != nil {
			d.mu.Lock()
			for _, r := range batch[i:] {
				d.dirty[r.Serial] = struct{}{}
			}
			d.mu.Unlock()
			return i, fmt.Errorf("saving device %s: %w", rec.Serial, err)
		}
	}
	return len(batch), nil
}
