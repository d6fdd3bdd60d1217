package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return t0.Add(time.Duration(seconds) * time.Second)
}

// newTestDirectory returns a Directory holding one camera "A" added at t0.
func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	d := NewDirectory(nil)
	d.UpsertFromInventory([]InventoryItem{{Serial: "A", Name: "Front", Model: "T8113"}}, t0)
	return d
}

func mustGet(t *testing.T, d *Directory, serial, prop string) Property {
	t.Helper()
	rec, err := d.Snapshot(serial)
	if err != nil {
		t.Fatalf("Snapshot(%q) error = %v", serial, err)
	}
	p, ok := rec.Properties[prop]
	if !ok {
		t.Fatalf("Snapshot(%q) has no property %q", serial, prop)
	}
	return p
}

// =============================================================================
// Merge
// =============================================================================

func TestMerge_PollThenNewerPush(t *testing.T) {
	d := NewDirectory(nil)
	d.UpsertFromInventory([]InventoryItem{{
		Serial:     "A",
		Model:      "T8113",
		Properties: map[string]Value{PropBattery: IntValue(80)},
	}}, at(1))

	res, err := d.Merge("A", map[string]Value{PropBattery: IntValue(75)}, at(2), SourcePush)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if len(res.Changed) != 1 || res.Changed[0] != PropBattery {
		t.Errorf("Changed = %v, want [battery]", res.Changed)
	}

	p := mustGet(t, d, "A", PropBattery)
	if p.Value.Int() != 75 {
		t.Errorf("battery = %v, want 75", p.Value)
	}
	if p.Source != SourcePush {
		t.Errorf("source = %q, want push", p.Source)
	}
}

func TestMerge_OlderPushIgnored(t *testing.T) {
	d := newTestDirectory(t)
	if _, err := d.Merge("A", map[string]Value{PropBattery: IntValue(80)}, at(10), SourcePoll); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	res, err := d.Merge("A", map[string]Value{PropBattery: IntValue(50)}, at(5), SourcePush)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if res.HasChanges() {
		t.Errorf("Changed = %v, want none", res.Changed)
	}
	if got := mustGet(t, d, "A", PropBattery).Value.Int(); got != 80 {
		t.Errorf("battery = %d, want 80", got)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	d := newTestDirectory(t)
	updates := map[string]Value{PropBattery: IntValue(60), PropMotion: BoolValue(true)}

	first, err := d.Merge("A", updates, at(3), SourcePush)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if len(first.Changed) != 2 {
		t.Errorf("first Changed = %v, want 2 properties", first.Changed)
	}

	second, err := d.Merge("A", updates, at(3), SourcePush)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if second.HasChanges() {
		t.Errorf("second Changed = %v, want none", second.Changed)
	}
}

func TestMerge_TieBreak(t *testing.T) {
	tests := []struct {
		name  string
		first Source
		then  Source
		want  int64
	}{
		{"push then poll keeps push", SourcePush, SourcePoll, 1},
		{"poll then push takes push", SourcePoll, SourcePush, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDirectory(t)
			d.Merge("A", map[string]Value{PropBattery: IntValue(1)}, at(5), tt.first) //nolint:errcheck // Checked below
			d.Merge("A", map[string]Value{PropBattery: IntValue(2)}, at(5), tt.then)  //nolint:errcheck // Checked below

			p := mustGet(t, d, "A", PropBattery)
			if p.Value.Int() != tt.want {
				t.Errorf("battery = %d, want %d", p.Value.Int(), tt.want)
			}
			if p.Source != SourcePush {
				t.Errorf("source = %q, want push", p.Source)
			}
		})
	}
}

type update struct {
	v      int64
	ts     time.Time
	source Source
}

func permutations(in []update) [][]update {
	if len(in) <= 1 {
		return [][]update{append([]update(nil), in...)}
	}
	var out [][]update
	for i := range in {
		rest := make([]update, 0, len(in)-1)
		rest = append(rest, in[:i]...)
		rest = append(rest, in[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]update{in[i]}, p...))
		}
	}
	return out
}

func TestMerge_OrderIndependent(t *testing.T) {
	updates := []update{
		{v: 80, ts: at(1), source: SourcePoll},
		{v: 75, ts: at(2), source: SourcePush},
		{v: 70, ts: at(2), source: SourcePoll},
		{v: 90, ts: at(1), source: SourcePush},
		{v: 75, ts: at(2), source: SourcePush},
	}

	for _, order := range permutations(updates) {
		d := newTestDirectory(t)
		for _, u := range order {
			if _, err := d.Merge("A", map[string]Value{PropBattery: IntValue(u.v)}, u.ts, u.source); err != nil {
				t.Fatalf("Merge() error = %v", err)
			}
		}
		p := mustGet(t, d, "A", PropBattery)
		if p.Value.Int() != 75 || p.Source != SourcePush || !p.UpdatedAt.Equal(at(2)) {
			t.Fatalf("order %v: battery = %v from %s at %v, want 75 from push at %v",
				order, p.Value, p.Source, p.UpdatedAt, at(2))
		}
	}
}

func TestMerge_EqualTimestampSameSourceIsDeterministic(t *testing.T) {
	a := newTestDirectory(t)
	a.Merge("A", map[string]Value{PropFirmware: StringValue("1.0")}, at(4), SourcePoll) //nolint:errcheck // Checked below
	a.Merge("A", map[string]Value{PropFirmware: StringValue("1.1")}, at(4), SourcePoll) //nolint:errcheck // Checked below

	b := newTestDirectory(t)
	b.Merge("A", map[string]Value{PropFirmware: StringValue("1.1")}, at(4), SourcePoll) //nolint:errcheck // Checked below
	b.Merge("A", map[string]Value{PropFirmware: StringValue("1.0")}, at(4), SourcePoll) //nolint:errcheck // Checked below

	if !mustGet(t, a, "A", PropFirmware).Value.Equal(mustGet(t, b, "A", PropFirmware).Value) {
		t.Error("merge order changed the outcome of an equal timestamp tie")
	}
}

func TestMerge_TypeMismatch(t *testing.T) {
	d := newTestDirectory(t)

	res, err := d.Merge("A", map[string]Value{
		PropBattery: StringValue("full"),
		PropMotion:  BoolValue(true),
	}, at(1), SourcePush)
	if err != nil {
		t.Fatalf("Merge() error = %v, type mismatch must not be fatal", err)
	}
	if !errors.Is(res.Rejected[PropBattery], ErrTypeMismatch) {
		t.Errorf("Rejected[battery] = %v, want ErrTypeMismatch", res.Rejected[PropBattery])
	}
	if len(res.Changed) != 1 || res.Changed[0] != PropMotion {
		t.Errorf("Changed = %v, want [motion]", res.Changed)
	}
}

func TestMerge_CoercesIntegralFloat(t *testing.T) {
	d := newTestDirectory(t)

	res, err := d.Merge("A", map[string]Value{PropBattery: FloatValue(42)}, at(1), SourcePush)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if len(res.Rejected) != 0 {
		t.Fatalf("Rejected = %v, want none", res.Rejected)
	}
	if p := mustGet(t, d, "A", PropBattery); p.Value.Type() != TypeInt || p.Value.Int() != 42 {
		t.Errorf("battery = %v (%s), want int 42", p.Value, p.Value.Type())
	}
}

func TestMerge_UnknownPropertyKeepsFirstType(t *testing.T) {
	d := newTestDirectory(t)
	d.Merge("A", map[string]Value{"night_vision": IntValue(1)}, at(1), SourcePush) //nolint:errcheck // Checked below

	res, _ := d.Merge("A", map[string]Value{"night_vision": StringValue("auto")}, at(2), SourcePush)
	if !errors.Is(res.Rejected["night_vision"], ErrTypeMismatch) {
		t.Errorf("Rejected = %v, want night_vision type mismatch", res.Rejected)
	}
}

func TestMerge_Errors(t *testing.T) {
	d := newTestDirectory(t)

	if _, err := d.Merge("", map[string]Value{PropBattery: IntValue(1)}, at(1), SourcePush); !errors.Is(err, ErrInvalidSerial) {
		t.Errorf("Merge(\"\") error = %v, want ErrInvalidSerial", err)
	}
	if _, err := d.Merge("ZZZ", map[string]Value{PropBattery: IntValue(1)}, at(1), SourcePush); !errors.Is(err, ErrNotFound) {
		t.Errorf("Merge(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestMerge_RecordTimestampMonotonic(t *testing.T) {
	d := newTestDirectory(t)
	d.Merge("A", map[string]Value{PropBattery: IntValue(10)}, at(10), SourcePush) //nolint:errcheck // Checked below
	d.Merge("A", map[string]Value{PropMotion: BoolValue(true)}, at(5), SourcePoll) //nolint:errcheck // Checked below

	rec, _ := d.Snapshot("A")
	if !rec.UpdatedAt.Equal(at(10)) {
		t.Errorf("UpdatedAt = %v, want %v", rec.UpdatedAt, at(10))
	}
}

func TestMerge_Concurrent(t *testing.T) {
	d := newTestDirectory(t)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.Merge("A", map[string]Value{PropBattery: IntValue(int64(i))}, at(i), SourcePush) //nolint:errcheck // Checked below
		}(i)
	}
	wg.Wait()

	if got := mustGet(t, d, "A", PropBattery).Value.Int(); got != 50 {
		t.Errorf("battery = %d, want 50 (latest timestamp)", got)
	}
}

// =============================================================================
// Reads
// =============================================================================

func TestSnapshot_NotFound(t *testing.T) {
	d := NewDirectory(nil)
	if _, err := d.Snapshot("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Snapshot() error = %v, want ErrNotFound", err)
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	d := newTestDirectory(t)
	rec, _ := d.Snapshot("A")
	rec.Properties[PropOnline] = Property{Value: BoolValue(false)}
	rec.Name = "changed"

	again, _ := d.Snapshot("A")
	if !again.Properties[PropOnline].Value.Bool() || again.Name != "Front" {
		t.Error("mutating a snapshot changed the Directory")
	}
}

func TestListAll_SortedBySerial(t *testing.T) {
	d := NewDirectory(nil)
	d.UpsertFromInventory([]InventoryItem{{Serial: "C"}, {Serial: "A"}, {Serial: "B"}}, t0)

	all := d.ListAll()
	if len(all) != 3 {
		t.Fatalf("ListAll() len = %d, want 3", len(all))
	}
	for i, want := range []string{"A", "B", "C"} {
		if all[i].Serial != want {
			t.Errorf("ListAll()[%d] = %q, want %q", i, all[i].Serial, want)
		}
	}
}

// =============================================================================
// Inventory
// =============================================================================

func TestUpsertFromInventory_AddsAndClassifies(t *testing.T) {
	d := NewDirectory(nil)
	res := d.UpsertFromInventory([]InventoryItem{
		{Serial: "BASE", Model: "T8010N", Address: "192.168.1.20"},
		{Serial: "LOCK", Model: "T8520"},
		{Serial: "ODD", Model: "X9999"},
	}, t0)

	if len(res.Added) != 3 {
		t.Errorf("Added = %v, want 3 serials", res.Added)
	}
	if len(res.Unsupported) != 2 {
		t.Errorf("Unsupported = %v, want LOCK and ODD", res.Unsupported)
	}

	base, _ := d.Snapshot("BASE")
	if base.Kind != KindStation || !base.Supported || base.Address != "192.168.1.20" {
		t.Errorf("BASE = %+v, want supported station with address", base)
	}
	if v, _ := base.Get(PropOnline); !v.Bool() {
		t.Error("listed device should be online")
	}

	odd, _ := d.Snapshot("ODD")
	if odd.Kind != KindUnknown || odd.Supported {
		t.Errorf("ODD kind = %q supported = %v, want unknown/false", odd.Kind, odd.Supported)
	}
}

func TestUpsertFromInventory_OfflineAfterTwoMisses(t *testing.T) {
	d := NewDirectory(nil)
	both := []InventoryItem{{Serial: "A"}, {Serial: "B"}}
	onlyA := []InventoryItem{{Serial: "A"}}

	online := func() bool {
		t.Helper()
		rec, err := d.Snapshot("B")
		if err != nil {
			t.Fatalf("Snapshot(B) error = %v", err)
		}
		v, _ := rec.Get(PropOnline)
		return v.Bool()
	}

	d.UpsertFromInventory(both, at(1))

	res := d.UpsertFromInventory(onlyA, at(2))
	if !online() || len(res.MarkedOffline) != 0 {
		t.Fatal("device marked offline after a single missed inventory")
	}

	res = d.UpsertFromInventory(onlyA, at(3))
	if online() {
		t.Fatal("device still online after two missed inventories")
	}
	if len(res.MarkedOffline) != 1 || res.MarkedOffline[0] != "B" {
		t.Errorf("MarkedOffline = %v, want [B]", res.MarkedOffline)
	}

	d.UpsertFromInventory(both, at(4))
	if !online() {
		t.Error("device not back online after reappearing")
	}
	rec, _ := d.Snapshot("B")
	if rec.MissedPolls != 0 {
		t.Errorf("MissedPolls = %d, want 0", rec.MissedPolls)
	}

	// An interleaved hit resets the grace period.
	d.UpsertFromInventory(onlyA, at(5))
	d.UpsertFromInventory(both, at(6))
	d.UpsertFromInventory(onlyA, at(7))
	if !online() {
		t.Error("non-consecutive misses marked the device offline")
	}
}

func TestUpsertFromInventory_UpdatesMetadata(t *testing.T) {
	d := newTestDirectory(t)
	res := d.UpsertFromInventory([]InventoryItem{{Serial: "A", Name: "Garden", Model: "T8113"}}, at(1))

	if len(res.Updated) != 1 {
		t.Errorf("Updated = %v, want [A]", res.Updated)
	}
	rec, _ := d.Snapshot("A")
	if rec.Name != "Garden" {
		t.Errorf("Name = %q, want Garden", rec.Name)
	}
}

// =============================================================================
// Optimistic updates
// =============================================================================

func TestMergeOptimistic_OverwrittenByAuthoritative(t *testing.T) {
	d := newTestDirectory(t)
	d.Merge("A", map[string]Value{PropArmed: BoolValue(false)}, at(1), SourcePoll) //nolint:errcheck // Checked below

	res, err := d.MergeOptimistic("A", map[string]Value{PropArmed: BoolValue(true)}, at(10), at(40))
	if err != nil {
		t.Fatalf("MergeOptimistic() error = %v", err)
	}
	if !res.HasChanges() {
		t.Fatal("optimistic merge reported no change")
	}
	if p := mustGet(t, d, "A", PropArmed); !p.Value.Bool() || p.Source != SourceOptimistic {
		t.Fatalf("armed = %v from %s, want true from optimistic", p.Value, p.Source)
	}

	// A poll older than the optimistic value still replaces it.
	res, _ = d.Merge("A", map[string]Value{PropArmed: BoolValue(false)}, at(2), SourcePoll)
	if !res.HasChanges() {
		t.Error("authoritative update did not replace optimistic value")
	}
	if p := mustGet(t, d, "A", PropArmed); p.Value.Bool() || p.Source != SourcePoll {
		t.Errorf("armed = %v from %s, want false from poll", p.Value, p.Source)
	}
}

func TestMergeOptimistic_NeverBeatsNewerAuthoritative(t *testing.T) {
	d := newTestDirectory(t)
	d.Merge("A", map[string]Value{PropArmed: BoolValue(false)}, at(10), SourcePush) //nolint:errcheck // Checked below

	res, _ := d.MergeOptimistic("A", map[string]Value{PropArmed: BoolValue(true)}, at(10), at(40))
	if res.HasChanges() {
		t.Error("optimistic update with an equal timestamp replaced an authoritative value")
	}
}

func TestMergeOptimistic_StaleAuthoritativeRestoresShadowed(t *testing.T) {
	d := newTestDirectory(t)
	d.Merge("A", map[string]Value{PropGuardMode: IntValue(1)}, at(20), SourcePoll)        //nolint:errcheck // Checked below
	d.MergeOptimistic("A", map[string]Value{PropGuardMode: IntValue(63)}, at(30), at(60)) //nolint:errcheck // Checked below

	res, err := d.Merge("A", map[string]Value{PropGuardMode: IntValue(0)}, at(10), SourcePush)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if len(res.Changed) != 1 || res.Changed[0] != PropGuardMode {
		t.Errorf("Changed = %v, want [guard_mode]", res.Changed)
	}

	p := mustGet(t, d, "A", PropGuardMode)
	if p.Value.Int() != 1 || p.Source != SourcePoll || !p.UpdatedAt.Equal(at(20)) {
		t.Errorf("guard_mode = %v from %s at %v, want 1 from poll at %v", p.Value, p.Source, p.UpdatedAt, at(20))
	}
}

func TestMergeOptimistic_ArrivalOrderDoesNotMatter(t *testing.T) {
	type step func(d *Directory)
	poll := func(d *Directory) {
		d.Merge("A", map[string]Value{PropGuardMode: IntValue(1)}, at(20), SourcePoll) //nolint:errcheck // Checked below
	}
	push := func(d *Directory) {
		d.Merge("A", map[string]Value{PropGuardMode: IntValue(0)}, at(10), SourcePush) //nolint:errcheck // Checked below
	}
	optimistic := func(d *Directory) {
		d.MergeOptimistic("A", map[string]Value{PropGuardMode: IntValue(63)}, at(30), at(60)) //nolint:errcheck // Checked below
	}

	tests := []struct {
		name  string
		steps []step
	}{
		{"push before optimistic", []step{poll, push, optimistic}},
		{"push after optimistic", []step{poll, optimistic, push}},
		{"push first", []step{push, poll, optimistic}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDirectory(t)
			for _, s := range tt.steps {
				s(d)
			}
			d.ExpireOptimistic(at(60))

			p := mustGet(t, d, "A", PropGuardMode)
			if p.Value.Int() != 1 || p.Source != SourcePoll {
				t.Errorf("guard_mode = %v from %s, want 1 from poll", p.Value, p.Source)
			}
		})
	}
}

func TestExpireOptimistic(t *testing.T) {
	d := newTestDirectory(t)
	d.Merge("A", map[string]Value{PropArmed: BoolValue(false)}, at(1), SourcePoll) //nolint:errcheck // Checked below
	d.MergeOptimistic("A", map[string]Value{                                        //nolint:errcheck // Checked below
		PropArmed:     BoolValue(true),
		PropStatusLED: BoolValue(true),
	}, at(10), at(40))

	sub := d.Subscribe()
	defer sub.Close()

	if n := d.ExpireOptimistic(at(39)); n != 0 {
		t.Errorf("ExpireOptimistic before expiry = %d, want 0", n)
	}

	if n := d.ExpireOptimistic(at(40)); n != 2 {
		t.Errorf("ExpireOptimistic() = %d, want 2", n)
	}

	ev := nextEvent(t, sub)
	if ev.Source != SourceOptimistic || len(ev.Changed) != 2 {
		t.Errorf("expiry event = %+v, want two reverted properties tagged optimistic", ev)
	}

	p := mustGet(t, d, "A", PropArmed)
	if p.Value.Bool() || p.Source != SourcePoll {
		t.Errorf("armed = %v from %s, want reverted to false from poll", p.Value, p.Source)
	}
	rec, _ := d.Snapshot("A")
	if _, ok := rec.Properties[PropStatusLED]; ok {
		t.Error("optimistic value with no prior should be removed on expiry")
	}
}

// =============================================================================
// Subscriptions
// =============================================================================

func nextEvent(t *testing.T, sub *Subscription) ChangeEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	return ev
}

func TestSubscribe_OnlyLaterEvents(t *testing.T) {
	d := newTestDirectory(t)
	d.Merge("A", map[string]Value{PropBattery: IntValue(10)}, at(1), SourcePush) //nolint:errcheck // Checked below

	sub := d.Subscribe()
	defer sub.Close()

	if sub.Pending() != 0 {
		t.Fatalf("Pending() = %d, want 0 (no replay)", sub.Pending())
	}

	d.Merge("A", map[string]Value{PropBattery: IntValue(20)}, at(2), SourcePush) //nolint:errcheck // Checked below
	d.Merge("A", map[string]Value{PropBattery: IntValue(20)}, at(2), SourcePush) //nolint:errcheck // No-op merge

	ev := nextEvent(t, sub)
	if ev.Serial != "A" || ev.Source != SourcePush || len(ev.Changed) != 1 {
		t.Errorf("event = %+v, want battery change on A from push", ev)
	}
	if v, _ := ev.Record.Get(PropBattery); v.Int() != 20 {
		t.Errorf("event record battery = %v, want 20", v)
	}
	if sub.Pending() != 0 {
		t.Errorf("Pending() = %d, no-op merge must not emit", sub.Pending())
	}
}

func TestSubscribe_AddedEvent(t *testing.T) {
	d := NewDirectory(nil)
	sub := d.Subscribe()
	defer sub.Close()

	d.UpsertFromInventory([]InventoryItem{{Serial: "N", Properties: map[string]Value{PropBattery: IntValue(99)}}}, t0)

	ev := nextEvent(t, sub)
	if !ev.Added || ev.Serial != "N" {
		t.Errorf("event = %+v, want Added for N", ev)
	}
}

func TestSubscribe_FanOutAndOrder(t *testing.T) {
	d := newTestDirectory(t)
	s1, s2 := d.Subscribe(), d.Subscribe()
	defer s1.Close()
	defer s2.Close()

	for i := 1; i <= 5; i++ {
		d.Merge("A", map[string]Value{PropBattery: IntValue(int64(i))}, at(i), SourcePush) //nolint:errcheck // Checked below
	}

	for _, sub := range []*Subscription{s1, s2} {
		for i := 1; i <= 5; i++ {
			ev := nextEvent(t, sub)
			if v, _ := ev.Record.Get(PropBattery); v.Int() != int64(i) {
				t.Errorf("event %d battery = %v, want %d", i, v, i)
			}
		}
	}
}

func TestSubscription_Close(t *testing.T) {
	d := newTestDirectory(t)
	sub := d.Subscribe()
	d.Merge("A", map[string]Value{PropBattery: IntValue(1)}, at(1), SourcePush) //nolint:errcheck // Checked below

	sub.Close()
	sub.Close()

	// Queued events are still delivered after Close.
	nextEvent(t, sub)
	if _, err := sub.Next(context.Background()); !errors.Is(err, ErrSubscriptionClosed) {
		t.Errorf("Next() after drain error = %v, want ErrSubscriptionClosed", err)
	}

	d.Merge("A", map[string]Value{PropBattery: IntValue(2)}, at(2), SourcePush) //nolint:errcheck // Checked below
	if sub.Pending() != 0 {
		t.Error("closed subscription received an event")
	}
}

func TestSubscription_NextContextCancelled(t *testing.T) {
	d := newTestDirectory(t)
	sub := d.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sub.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next() error = %v, want DeadlineExceeded", err)
	}
}

// =============================================================================
// Persistence
// =============================================================================

type memStore struct {
	mu      sync.Mutex
	records map[string]Record
	saveErr error
	saves   int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Record)}
}

func (m *memStore) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.records[rec.Serial] = rec.Clone()
	return nil
}

func (m *memStore) LoadAll(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	return out, nil
}

func TestPersist_DirtyOnly(t *testing.T) {
	store := newMemStore()
	d := NewDirectory(store)
	d.UpsertFromInventory([]InventoryItem{{Serial: "A"}, {Serial: "B"}}, t0)

	n, err := d.Persist(context.Background(), false)
	if err != nil || n != 2 {
		t.Fatalf("Persist() = %d, %v, want 2, nil", n, err)
	}

	n, _ = d.Persist(context.Background(), false)
	if n != 0 {
		t.Errorf("Persist() with nothing dirty = %d, want 0", n)
	}

	d.Merge("A", map[string]Value{PropBattery: IntValue(5)}, at(1), SourcePush) //nolint:errcheck // Checked below
	n, _ = d.Persist(context.Background(), false)
	if n != 1 {
		t.Errorf("Persist() after one merge = %d, want 1", n)
	}

	n, _ = d.Persist(context.Background(), true)
	if n != 2 {
		t.Errorf("Persist(all) = %d, want 2", n)
	}
}

func TestPersist_SkipsOptimistic(t *testing.T) {
	store := newMemStore()
	d := NewDirectory(store)
	d.UpsertFromInventory([]InventoryItem{{Serial: "A", Properties: map[string]Value{PropArmed: BoolValue(false)}}}, t0)
	d.MergeOptimistic("A", map[string]Value{ //nolint:errcheck // Checked below
		PropArmed:     BoolValue(true),
		PropStatusLED: BoolValue(true),
	}, at(1), at(30))

	if _, err := d.Persist(context.Background(), true); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	saved := store.records["A"]
	if p := saved.Properties[PropArmed]; p.Value.Bool() || p.Source != SourcePoll {
		t.Errorf("saved armed = %v from %s, want false from poll", p.Value, p.Source)
	}
	if _, ok := saved.Properties[PropStatusLED]; ok {
		t.Error("optimistic-only property was persisted")
	}
}

func TestPersist_FailureKeepsDirty(t *testing.T) {
	store := newMemStore()
	store.saveErr = errors.New("disk full")
	d := NewDirectory(store)
	d.UpsertFromInventory([]InventoryItem{{Serial: "A"}}, t0)

	if _, err := d.Persist(context.Background(), false); err == nil {
		t.Fatal("Persist() expected error")
	}

	store.saveErr = nil
	if n, err := d.Persist(context.Background(), false); err != nil || n != 1 {
		t.Errorf("Persist() retry = %d, %v, want 1, nil", n, err)
	}
}

func TestHydrate(t *testing.T) {
	store := newMemStore()
	src := NewDirectory(store)
	src.UpsertFromInventory([]InventoryItem{{
		Serial:     "A",
		Model:      "T8010",
		Properties: map[string]Value{PropGuardMode: IntValue(1)},
	}}, t0)
	src.Persist(context.Background(), true) //nolint:errcheck // Checked via Hydrate

	d := NewDirectory(store)
	sub := d.Subscribe()
	defer sub.Close()

	n, err := d.Hydrate(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Hydrate() = %d, %v, want 1, nil", n, err)
	}
	if sub.Pending() != 0 {
		t.Error("Hydrate emitted change events")
	}

	rec, err := d.Snapshot("A")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if rec.Kind != KindStation {
		t.Errorf("Kind = %q, want station", rec.Kind)
	}
	if v, _ := rec.Get(PropGuardMode); v.Int() != 1 {
		t.Errorf("guard_mode = %v, want 1", v)
	}

	// Hydrated state is older than a fresh poll and is replaced by it.
	d.UpsertFromInventory([]InventoryItem{{Serial: "A", Properties: map[string]Value{PropGuardMode: IntValue(0)}}}, at(60))
	if v := mustGet(t, d, "A", PropGuardMode).Value; v.Int() != 0 {
		t.Errorf("guard_mode after poll = %v, want 0", v)
	}
}

func TestHydrate_NilStore(t *testing.T) {
	d := NewDirectory(nil)
	if n, err := d.Hydrate(context.Background()); n != 0 || err != nil {
		t.Errorf("Hydrate() = %d, %v, want 0, nil", n, err)
	}
	if n, err := d.Persist(context.Background(), true); n != 0 || err != nil {
		t.Errorf("Persist() = %d, %v, want 0, nil", n, err)
	}
}
