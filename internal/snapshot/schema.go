// Package snapshot renders a Runtime's live set as a browser
// heap-profiler-compatible ".heapsnapshot" JSON document (§4.8).
package snapshot

import (
	"github.com/Masterminds/semver/v3"

	"github.com/orizon-lang/mheap/internal/herr"
)

// SchemaVersion is the node/edge/strings schema this dumper emits.
// Bumping the minor version is backward compatible for readers that
// only understand the previous minor; bumping the major version is not.
const SchemaVersion = "1.0.0"

// schemaConstraint is the compatibility window accepted by
// CheckSchemaVersion: any version from 1.0.0 up to, but not including,
// 2.0.0 — the same major as SchemaVersion, never a later major.
const schemaConstraint = ">=1.0.0, <2.0.0"

// CheckSchemaVersion reports whether version (e.g. a version recorded in
// a previously-written snapshot file being inspected) is compatible with
// the schema this package writes, per SPEC_FULL §4.12's guard against
// silently misinterpreting a future incompatible schema.
func CheckSchemaVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return herr.SnapshotIO("parse schema version", err)
	}

	c, err := semver.NewConstraint(schemaConstraint)
	if err != nil {
		// schemaConstraint is a package constant; a parse failure here is
		// a programming error, not a runtime I/O condition.
		herr.Fatal("E_BAD_SCHEMA_CONSTRAINT", "schemaConstraint failed to parse", map[string]interface{}{"constraint": schemaConstraint})
	}

	if !c.Check(v) {
		return herr.SnapshotIO("check schema version", errSchemaMismatch{version: version})
	}

	return nil
}

type errSchemaMismatch struct{ version string }

func (e errSchemaMismatch) Error() string {
	return "snapshot schema version " + e.version + " is not compatible with " + schemaConstraint
}
