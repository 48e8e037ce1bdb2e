// Package blueprint defines PartialBlueprint/Blueprint and their store.
// Finalize (see transport/http) is the sole PartialBlueprint -> Blueprint
// transition: there is no other path that skips validation.
package blueprint

import (
	"time"

	"github.com/iceos/core/ice"
	"github.com/iceos/core/node"
)

// PartialBlueprint is a mutable, in-progress workflow definition. Clients
// build it up with repeated patch calls before finalizing it.
type PartialBlueprint struct {
	ID          ice.PartialID  `json:"id"`
	Name        string         `json:"name"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Nodes       []node.Spec    `json:"nodes"`
	VersionLock string         `json:"version_lock"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Blueprint is an immutable, validated, compiled-ready workflow definition.
// Once finalized a Blueprint's Nodes never change; a new edit cycle starts a
// new PartialBlueprint.
type Blueprint struct {
	ID          ice.BlueprintID `json:"id"`
	Name        string          `json:"name"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	Nodes       []node.Spec     `json:"nodes"`
	VersionLock string          `json:"version_lock"`
	FinalizedAt time.Time       `json:"finalized_at"`
	MaxParallel int             `json:"max_parallel,omitempty"`
}

// Patch describes a partial update to a PartialBlueprint. Only non-nil
// fields are applied; Nodes, when present, replaces the node list wholesale
// rather than merging element-by-element.
type Patch struct {
	Name     *string        `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Nodes    []node.Spec    `json:"nodes,omitempty"`
}

// Apply overlays p onto a copy of pb and returns the result. pb is not
// mutated.
func (p Patch) Apply(pb PartialBlueprint) PartialBlueprint {
	out := pb
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Metadata != nil {
		merged := make(map[string]any, len(out.Metadata)+len(p.Metadata))
		for k, v := range out.Metadata {
			merged[k] = v
		}
		for k, v := range p.Metadata {
			merged[k] = v
		}
		out.Metadata = merged
	}
	if p.Nodes != nil {
		out.Nodes = p.Nodes
	}
	return out
}
