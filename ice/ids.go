// Package ice holds the vocabulary shared by every other package in the
// module: identifiers, the error taxonomy, and the Clock interface. Nothing
// in this package imports another iceOS package.
package ice

import "github.com/google/uuid"

// BlueprintID identifies a finalized, immutable Blueprint.
type BlueprintID string

// PartialID identifies a mutable PartialBlueprint under construction.
type PartialID string

// NodeID identifies a node within a single Blueprint. Unique only within
// that Blueprint, not globally.
type NodeID string

// RunID identifies one execution of a Blueprint.
type RunID string

// BindingName identifies a component registered in the Registry, scoped by
// Kind (e.g. a tool named "http.get" and an agent named "http.get" do not
// collide).
type BindingName string

// NewBlueprintID returns a fresh random BlueprintID.
func NewBlueprintID() BlueprintID { return BlueprintID(uuid.NewString()) }

// NewPartialID returns a fresh random PartialID.
func NewPartialID() PartialID { return PartialID(uuid.NewString()) }

// NewRunID returns a fresh random RunID.
func NewRunID() RunID { return RunID(uuid.NewString()) }
