package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/pipewright/internal/foundation/normalization"
)

// Duration is a time.Duration that unmarshals from Go duration strings ("90s", "1h30m").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// WorkDirMode selects the directory a job's script runs in.
type WorkDirMode string

const (
	WorkDirProject  WorkDirMode = "project"
	WorkDirIsolated WorkDirMode = "isolated"
)

var workDirNormalizer = normalization.NewNormalizer(map[string]WorkDirMode{
	"project":  WorkDirProject,
	"isolated": WorkDirIsolated,
}, WorkDirProject)

// StorageBackend selects where artifact bundles are stored.
type StorageBackend string

const (
	StorageFS    StorageBackend = "fs"
	StorageMinIO StorageBackend = "minio"
)

var storageBackendNormalizer = normalization.NewNormalizer(map[string]StorageBackend{
	"fs":         StorageFS,
	"filesystem": StorageFS,
	"minio":      StorageMinIO,
	"s3":         StorageMinIO,
}, StorageFS)

// EventsDriver selects the event store implementation.
type EventsDriver string

const (
	EventsSQLite   EventsDriver = "sqlite"
	EventsPostgres EventsDriver = "postgres"
	EventsNone     EventsDriver = "none"
)

var eventsDriverNormalizer = normalization.NewNormalizer(map[string]EventsDriver{
	"sqlite":   EventsSQLite,
	"postgres": EventsPostgres,
	"pgx":      EventsPostgres,
	"none":     EventsNone,
}, EventsSQLite)
