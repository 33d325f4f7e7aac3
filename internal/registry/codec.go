package registry

import (
	"bytes"
	"fmt"

	"github.com/srg/buttond/internal/button"
	"gopkg.in/yaml.v3"
)

// catalogVersion is bumped whenever the snapshot layout changes incompatibly.
const catalogVersion = 1

type catalogDoc struct {
	Version int            `yaml:"version"`
	Buttons []catalogEntry `yaml:"buttons"`
}

type catalogEntry struct {
	ID         string                 `yaml:"id"`
	PublicKey  string                 `yaml:"public_key"`
	Address    string                 `yaml:"address,omitempty"`
	DeviceName string                 `yaml:"device_name,omitempty"`
	UserName   string                 `yaml:"user_name,omitempty"`
	Color      string                 `yaml:"color,omitempty"`
	Trigger    button.TriggerBehavior `yaml:"trigger"`
	PressCount uint32                 `yaml:"press_count"`
	Pending    bool                   `yaml:"pending"`
}

// Record is one persisted catalog entry.
type Record struct {
	Button  button.Button
	Pending bool
}

// EncodeCatalog serializes records in the given order.
func EncodeCatalog(records []Record) ([]byte, error) {
	doc := catalogDoc{Version: catalogVersion, Buttons: make([]catalogEntry, 0, len(records))}
	for _, r := range records {
		b := r.Button
		doc.Buttons = append(doc.Buttons, catalogEntry{
			ID:         b.ID.String(),
			PublicKey:  b.PublicKey,
			Address:    b.Address,
			DeviceName: b.DeviceName,
			UserName:   b.UserAssignedName,
			Color:      b.Color,
			Trigger:    b.TriggerBehavior,
			PressCount: b.PressCount % button.PressCountModulus,
			Pending:    r.Pending,
		})
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeCatalog parses a snapshot. Duplicate identifiers keep the first entry.
func DecodeCatalog(data []byte) ([]Record, error) {
	var doc catalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if doc.Version != catalogVersion {
		return nil, fmt.Errorf("unsupported catalog version %d", doc.Version)
	}

	seen := make(map[button.ID]bool, len(doc.Buttons))
	records := make([]Record, 0, len(doc.Buttons))
	for i, e := range doc.Buttons {
		id, err := button.ParseID(e.ID)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		color := e.Color
		if color == "" {
			color = button.DefaultColor
		}
		records = append(records, Record{
			Button: button.Button{
				ID:               id,
				PublicKey:        e.PublicKey,
				Address:          e.Address,
				DeviceName:       e.DeviceName,
				UserAssignedName: e.UserName,
				Color:            color,
				TriggerBehavior:  e.Trigger,
				PressCount:       e.PressCount % button.PressCountModulus,
			},
			Pending: e.Pending,
		})
	}
	return records, nil
}
