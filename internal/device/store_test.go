package device

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nerrad567/eufy-bridge/internal/infrastructure/config"
	"github.com/nerrad567/eufy-bridge/internal/infrastructure/database"
	_ "github.com/nerrad567/eufy-bridge/migrations"
)

func sampleRecord() Record {
	return Record{
		Serial:        "T8113N1234",
		Name:          "Driveway",
		Model:         "T8113",
		StationSerial: "T8010N0001",
		Address:       "192.168.1.44",
		UpdatedAt:     at(30),
		Source:        SourcePush,
		MissedPolls:   1,
		Properties: map[string]Property{
			PropBattery:  {Value: IntValue(77), UpdatedAt: at(10), Source: SourcePoll},
			PropMotion:   {Value: BoolValue(true), UpdatedAt: at(30), Source: SourcePush},
			PropFirmware: {Value: StringValue("2.1.7"), UpdatedAt: at(10), Source: SourcePoll},
			"temperature": {Value: FloatValue(21.5), UpdatedAt: at(20), Source: SourcePush},
		},
	}
}

func assertSameRecord(t *testing.T, got, want Record) {
	t.Helper()
	if got.Serial != want.Serial || got.Name != want.Name || got.Model != want.Model ||
		got.StationSerial != want.StationSerial || got.Address != want.Address ||
		got.Source != want.Source || got.MissedPolls != want.MissedPolls {
		t.Errorf("record = %+v, want %+v", got, want)
	}
	if !got.UpdatedAt.Equal(want.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, want.UpdatedAt)
	}
	if got.Kind != KindCamera || !got.Supported {
		t.Errorf("Kind = %q Supported = %v, want camera/true", got.Kind, got.Supported)
	}
	if len(got.Properties) != len(want.Properties) {
		t.Fatalf("properties = %d, want %d", len(got.Properties), len(want.Properties))
	}
	for name, wp := range want.Properties {
		gp := got.Properties[name]
		if !gp.Value.Equal(wp.Value) || gp.Source != wp.Source || !gp.UpdatedAt.Equal(wp.UpdatedAt) {
			t.Errorf("property %s = %+v, want %+v", name, gp, wp)
		}
	}
}

// =============================================================================
// SQLite
// =============================================================================

func openSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "bridge.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()
	want := sampleRecord()

	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("LoadAll() len = %d, want 1", len(got))
	}
	assertSameRecord(t, got[0], want)
}

func TestSQLiteStore_HealthCheck(t *testing.T) {
	store := openSQLiteStore(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestSQLiteStore_SaveReplacesProperties(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()
	rec := sampleRecord()

	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	delete(rec.Properties, "temperature")
	rec.Name = "Back door"
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save() second error = %v", err)
	}

	got, _ := store.LoadAll(ctx)
	if len(got) != 1 {
		t.Fatalf("LoadAll() len = %d, want 1", len(got))
	}
	assertSameRecord(t, got[0], rec)
}

func TestSQLiteStore_WithDirectory(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()

	src := NewDirectory(store)
	src.UpsertFromInventory([]InventoryItem{
		{Serial: "B", Model: "T8010"},
		{Serial: "A", Model: "T8900", Properties: map[string]Value{PropOpen: BoolValue(true)}},
	}, t0)
	if n, err := src.Persist(ctx, false); err != nil || n != 2 {
		t.Fatalf("Persist() = %d, %v, want 2, nil", n, err)
	}

	dst := NewDirectory(store)
	if n, err := dst.Hydrate(ctx); err != nil || n != 2 {
		t.Fatalf("Hydrate() = %d, %v, want 2, nil", n, err)
	}
	all := dst.ListAll()
	if all[0].Serial != "A" || all[1].Serial != "B" {
		t.Errorf("ListAll() order = %s, %s", all[0].Serial, all[1].Serial)
	}
	if v, _ := all[0].Get(PropOpen); !v.Bool() {
		t.Error("open property lost in round trip")
	}
}

// =============================================================================
// bbolt
// =============================================================================

func TestBoltStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "devices.bolt")
	store, err := OpenBoltStore(path)
	if err != nil {
		t.Fatalf("OpenBoltStore() error = %v", err)
	}
	ctx := context.Background()
	want := sampleRecord()

	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := OpenBoltStore(path)
	if err != nil {
		t.Fatalf("OpenBoltStore() reopen error = %v", err)
	}
	defer reopened.Close() //nolint:errcheck // Test cleanup

	got, err := reopened.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("LoadAll() len = %d, want 1", len(got))
	}
	assertSameRecord(t, got[0], want)
}

func TestBoltStore_Empty(t *testing.T) {
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "devices.bolt"))
	if err != nil {
		t.Fatalf("OpenBoltStore() error = %v", err)
	}
	defer store.Close() //nolint:errcheck // Test cleanup

	got, err := store.LoadAll(context.Background())
	if err != nil || len(got) != 0 {
		t.Errorf("LoadAll() = %v, %v, want empty", got, err)
	}
}

func TestBoltStore_HealthCheck(t *testing.T) {
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "devices.bolt"))
	if err != nil {
		t.Fatalf("OpenBoltStore() error = %v", err)
	}
	ctx := context.Background()

	if err := store.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() after Close = nil, want error")
	}
}
