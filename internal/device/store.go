package device

import (
	"context"
	"fmt"
	"time"
)

// Store persists Directory records between runs.
type Store interface {
	// Save inserts or replaces one record.
	Save(ctx context.Context, rec Record) error

	// LoadAll returns every stored record.
	LoadAll(ctx context.Context) ([]Record, error)
}

// storedProperty is the persisted form of a Property. Values are kept in
// their String form together with the type needed to parse them back.
type storedProperty struct {
	Type      string    `cbor:"type"`
	Value     string    `cbor:"value"`
	UpdatedAt time.Time `cbor:"updated_at"`
	Source    Source    `cbor:"source"`
}

// storedRecord is the persisted form of a Record.
type storedRecord struct {
	Serial        string                    `cbor:"serial"`
	Name          string                    `cbor:"name"`
	Model         string                    `cbor:"model"`
	StationSerial string                    `cbor:"station_serial"`
	Address       string                    `cbor:"address"`
	Properties    map[string]storedProperty `cbor:"properties"`
	UpdatedAt     time.Time                 `cbor:"updated_at"`
	Source        Source                    `cbor:"source"`
	MissedPolls   int                       `cbor:"missed_polls"`
}

func toStored(rec Record) storedRecord {
	out := storedRecord{
		Serial:        rec.Serial,
		Name:          rec.Name,
		Model:         rec.Model,
		StationSerial: rec.StationSerial,
		Address:       rec.Address,
		Properties:    make(map[string]storedProperty, len(rec.Properties)),
		UpdatedAt:     rec.UpdatedAt,
		Source:        rec.Source,
		MissedPolls:   rec.MissedPolls,
	}
	for name, p := range rec.Properties {
		out.Properties[name] = storedProperty{
			Type:      p.Value.Type().String(),
			Value:     p.Value.String(),
			UpdatedAt: p.UpdatedAt,
			Source:    p.Source,
		}
	}
	return out
}

func (s storedRecord) record() (Record, error) {
	model, _ := LookupModel(s.Model)
	rec := Record{
		Serial:        s.Serial,
		Name:          s.Name,
		Model:         s.Model,
		Kind:          model.Kind,
		Supported:     model.Supported,
		StationSerial: s.StationSerial,
		Address:       s.Address,
		Properties:    make(map[string]Property, len(s.Properties)),
		UpdatedAt:     s.UpdatedAt,
		Source:        s.Source,
		MissedPolls:   s.MissedPolls,
	}
	for name, sp := range s.Properties {
		p, err := sp.property()
		if err != nil {
			return Record{}, fmt.Errorf("property %s of %s: %w", name, s.Serial, err)
		}
		rec.Properties[name] = p
	}
	return rec, nil
}

func (sp storedProperty) property() (Property, error) {
	t, err := ParseValueType(sp.Type)
	if err != nil {
		return Property{}, err
	}
	v, err := ParseValue(t, sp.Value)
	if err != nil {
		return Property{}, err
	}
	return Property{Value: v, UpdatedAt: sp.UpdatedAt, Source: sp.Source}, nil
}
