// Package store defines the persistence interfaces for partial and
// finalized blueprints.
package store

import (
	"context"
	"errors"

	"github.com/iceos/core/blueprint"
	"github.com/iceos/core/ice"
)

// ErrNotFound is returned when a lookup finds nothing by the given ID.
var ErrNotFound = errors.New("blueprint: not found")

// ErrVersionMismatch is returned by a conditional write whose expected
// version_lock does not match the stored one.
var ErrVersionMismatch = errors.New("blueprint: version mismatch")

// NewSentinel is the version_lock value a caller passes to request
// unconditional creation of a brand new PartialBlueprint.
const NewSentinel = "__new__"

// PartialStore persists in-progress PartialBlueprint documents with
// optimistic concurrency control: every write that supplies a version_lock
// other than NewSentinel must match the currently stored one or the write
// is rejected with ErrVersionMismatch.
type PartialStore interface {
	Create(ctx context.Context, pb blueprint.PartialBlueprint) (blueprint.PartialBlueprint, error)
	Get(ctx context.Context, id ice.PartialID) (blueprint.PartialBlueprint, error)
	Patch(ctx context.Context, id ice.PartialID, expectedLock string, p blueprint.Patch) (blueprint.PartialBlueprint, error)
	Delete(ctx context.Context, id ice.PartialID) error
}

// BlueprintStore persists finalized, immutable Blueprints.
type BlueprintStore interface {
	Put(ctx context.Context, bp blueprint.Blueprint) error
	Get(ctx context.Context, id ice.BlueprintID) (blueprint.Blueprint, error)
	List(ctx context.Context) ([]blueprint.Blueprint, error)
}
