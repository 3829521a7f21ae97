package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rtloop/rtloop/pkg/plugin"
)

// SchemaVersion is the document version this package writes.
const SchemaVersion = 2

// Document is the persisted form of a workspace.
type Document struct {
	SchemaVersion int                  `json:"schema_version"`
	Name          string               `json:"name"`
	Description   string               `json:"description,omitempty"`
	Settings      DocumentSettings     `json:"settings"`
	Instances     []InstanceConfig     `json:"instances"`
	Connections   []Connection         `json:"connections"`
}

// DocumentSettings is the serialized timing configuration.
type DocumentSettings struct {
	PeriodUS   int64  `json:"period_us"`
	PeriodUnit string `json:"period_unit"`
}

// legacyDocument is the version 1 layout: frequency-based timing and the
// plugins/config field names.
type legacyDocument struct {
	SchemaVersion int    `json:"schema_version"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	TargetHz      int    `json:"target_hz"`
	Plugins       []struct {
		ID       uint64        `json:"id"`
		Kind     string        `json:"kind"`
		Priority int           `json:"priority,omitempty"`
		Config   plugin.Values `json:"config,omitempty"`
	} `json:"plugins"`
	Connections []struct {
		FromPlugin uint64 `json:"from_plugin"`
		FromPort   string `json:"from_port"`
		ToPlugin   uint64 `json:"to_plugin"`
		ToPort     string `json:"to_port"`
	} `json:"connections"`
}

// Encode serializes the workspace as a current-version document.
func Encode(w *Workspace) ([]byte, error) {
	doc := Document{
		SchemaVersion: SchemaVersion,
		Name:          w.Name,
		Description:   w.Description,
		Settings: DocumentSettings{
			PeriodUS:   w.Settings.Period.Microseconds(),
			PeriodUnit: w.Settings.PeriodUnit,
		},
		Instances:   w.Instances,
		Connections: w.Connections,
	}
	if doc.Instances == nil {
		doc.Instances = []InstanceConfig{}
	}
	if doc.Connections == nil {
		doc.Connections = []Connection{}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Decode parses a workspace document, migrating older schema versions.
// Versions newer than SchemaVersion fail explicitly; data is never
// silently dropped.
func Decode(data []byte) (*Workspace, error) {
	var probe struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse workspace document: %w", err)
	}

	switch probe.SchemaVersion {
	case SchemaVersion:
		if err := ValidateDocument(data); err != nil {
			return nil, err
		}
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse workspace document: %w", err)
		}
		return fromDocument(&doc)
	case 1:
		var legacy legacyDocument
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, fmt.Errorf("parse v1 workspace document: %w", err)
		}
		return migrateV1(&legacy)
	case 0:
		return nil, fmt.Errorf("workspace document has no schema_version")
	default:
		return nil, fmt.Errorf("workspace schema version %d is newer than supported version %d",
			probe.SchemaVersion, SchemaVersion)
	}
}

func fromDocument(doc *Document) (*Workspace, error) {
	if doc.Settings.PeriodUS <= 0 {
		return nil, fmt.Errorf("workspace %q: period_us must be positive", doc.Name)
	}
	switch doc.Settings.PeriodUnit {
	case "ns", "us", "ms", "s":
	case "":
		doc.Settings.PeriodUnit = "us"
	default:
		return nil, fmt.Errorf("workspace %q: unknown period unit %q", doc.Name, doc.Settings.PeriodUnit)
	}
	w := &Workspace{
		Name:        doc.Name,
		Description: doc.Description,
		Settings: Settings{
			Period:     time.Duration(doc.Settings.PeriodUS) * time.Microsecond,
			PeriodUnit: doc.Settings.PeriodUnit,
		},
		Instances:   doc.Instances,
		Connections: doc.Connections,
	}
	seen := map[uint64]bool{}
	for _, inst := range w.Instances {
		if seen[inst.ID] {
			return nil, fmt.Errorf("workspace %q: duplicate instance id %d", doc.Name, inst.ID)
		}
		seen[inst.ID] = true
	}
	return w, nil
}

// migrateV1 converts a frequency-based v1 document. target_hz becomes the
// equivalent period; plugins/config become instances/variables.
func migrateV1(legacy *legacyDocument) (*Workspace, error) {
	if legacy.TargetHz <= 0 {
		return nil, fmt.Errorf("v1 workspace %q: target_hz must be positive", legacy.Name)
	}
	w := NewWorkspace(legacy.Name)
	w.Description = legacy.Description
	w.Settings.Period = time.Duration(int64(time.Second) / int64(legacy.TargetHz))
	for _, p := range legacy.Plugins {
		if err := w.AddInstance(InstanceConfig{
			ID:        p.ID,
			Kind:      p.Kind,
			Priority:  p.Priority,
			Variables: p.Config,
		}); err != nil {
			return nil, fmt.Errorf("migrate v1 workspace %q: %w", legacy.Name, err)
		}
	}
	for _, c := range legacy.Connections {
		if err := w.Connect(Connection{
			FromInstance: c.FromPlugin,
			FromPort:     c.FromPort,
			ToInstance:   c.ToPlugin,
			ToPort:       c.ToPort,
		}); err != nil {
			return nil, fmt.Errorf("migrate v1 workspace %q: %w", legacy.Name, err)
		}
	}
	return w, nil
}

// Save writes the workspace document to path.
func Save(w *Workspace, path string) error {
	data, err := Encode(w)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load reads a workspace document from path.
func Load(path string) (*Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workspace: %w", err)
	}
	return Decode(data)
}
