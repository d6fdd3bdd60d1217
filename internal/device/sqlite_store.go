package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/eufy-bridge/internal/infrastructure/database"
)

// SQLiteStore implements Store on the bridge's SQLite database.
// It expects the devices and device_properties tables created by the
// embedded migrations.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a store on an open, migrated database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

// Save replaces the record and all of its properties in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	st := toStored(rec)

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO devices (serial, name, model, station_serial, address, updated_at, source, missed_polls)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(serial) DO UPDATE SET
				name = excluded.name,
				model = excluded.model,
				station_serial = excluded.station_serial,
				address = excluded.address,
				updated_at = excluded.updated_at,
				source = excluded.source,
				missed_polls = excluded.missed_polls`,
			st.Serial, st.Name, st.Model, st.StationSerial, st.Address,
			formatTime(st.UpdatedAt), string(st.Source), st.MissedPolls,
		)
		if err != nil {
			return fmt.Errorf("upserting device: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM device_properties WHERE serial = ?", st.Serial); err != nil {
			return fmt.Errorf("clearing properties: %w", err)
		}

		for name, p := range st.Properties {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO device_properties (serial, name, type, value, updated_at, source)
				VALUES (?, ?, ?, ?, ?, ?)`,
				st.Serial, name, p.Type, p.Value, formatTime(p.UpdatedAt), string(p.Source),
			)
			if err != nil {
				return fmt.Errorf("inserting property %s: %w", name, err)
			}
		}
		return nil
	})
}

// LoadAll returns every stored record ordered by serial.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]Record, error) {
	stored, order, err := s.loadDevices(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.loadProperties(ctx, stored); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(order))
	for _, serial := range order {
		rec, err := stored[serial].record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *SQLiteStore) loadDevices(ctx context.Context) (map[string]*storedRecord, []string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT serial, name, model, station_serial, address, updated_at, source, missed_polls
		FROM devices
		ORDER BY serial`)
	if err != nil {
		return nil, nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	stored := make(map[string]*storedRecord)
	var order []string
	for rows.Next() {
		var st storedRecord
		var updatedAt, source string
		if err := rows.Scan(&st.Serial, &st.Name, &st.Model, &st.StationSerial, &st.Address,
			&updatedAt, &source, &st.MissedPolls); err != nil {
			return nil, nil, fmt.Errorf("scanning device: %w", err)
		}
		if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, nil, fmt.Errorf("device %s: %w", st.Serial, err)
		}
		st.Source = Source(source)
		st.Properties = make(map[string]storedProperty)
		stored[st.Serial] = &st
		order = append(order, st.Serial)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating devices: %w", err)
	}
	return stored, order, nil
}

func (s *SQLiteStore) loadProperties(ctx context.Context, stored map[string]*storedRecord) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT serial, name, type, value, updated_at, source FROM device_properties")
	if err != nil {
		return fmt.Errorf("querying properties: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var serial, name, updatedAt, source string
		var p storedProperty
		if err := rows.Scan(&serial, &name, &p.Type, &p.Value, &updatedAt, &source); err != nil {
			return fmt.Errorf("scanning property: %w", err)
		}
		if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return fmt.Errorf("property %s/%s: %w", serial, name, err)
		}
		p.Source = Source(source)
		if st, ok := stored[serial]; ok {
			st.Properties[name] = p
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating properties: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
