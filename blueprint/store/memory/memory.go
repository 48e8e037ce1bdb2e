// Package memory is the default, in-process PartialStore/BlueprintStore
// backing used by tests and single-node deployments. Grounded on the
// teacher's registry/store/memory mutex-guarded-map idiom, extended here
// with a version-lock token so concurrent edits can be detected (the
// teacher's store has no analogous conditional-write path).
package memory

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"sync"

	"github.com/iceos/core/blueprint"
	"github.com/iceos/core/blueprint/store"
	"github.com/iceos/core/ice"
)

// PartialStore is an in-memory store.PartialStore.
type PartialStore struct {
	mu   sync.RWMutex
	data map[ice.PartialID]blueprint.PartialBlueprint
	clock ice.Clock
}

func NewPartialStore(clock ice.Clock) *PartialStore {
	if clock == nil {
		clock = ice.SystemClock
	}
	return &PartialStore{data: make(map[ice.PartialID]blueprint.PartialBlueprint), clock: clock}
}

func newLock() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b[:])
}

func (s *PartialStore) Create(ctx context.Context, pb blueprint.PartialBlueprint) (blueprint.PartialBlueprint, error) {
	if err := ctx.Err(); err != nil {
		return blueprint.PartialBlueprint{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if pb.ID == "" {
		pb.ID = ice.NewPartialID()
	}
	now := s.clock.Now()
	pb.CreatedAt, pb.UpdatedAt = now, now
	pb.VersionLock = newLock()
	s.data[pb.ID] = pb
	return pb, nil
}

func (s *PartialStore) Get(ctx context.Context, id ice.PartialID) (blueprint.PartialBlueprint, error) {
	if err := ctx.Err(); err != nil {
		return blueprint.PartialBlueprint{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	pb, ok := s.data[id]
	if !ok {
		return blueprint.PartialBlueprint{}, fmt.Errorf("%w: partial %s", store.ErrNotFound, id)
	}
	return pb, nil
}

// Patch applies p to the stored PartialBlueprint identified by id, but only
// if expectedLock matches the currently stored version_lock (or equals
// store.NewSentinel, which always succeeds by skipping the check — used
// when the caller doesn't care about racing with a concurrent editor).
func (s *PartialStore) Patch(ctx context.Context, id ice.PartialID, expectedLock string, p blueprint.Patch) (blueprint.PartialBlueprint, error) {
	if err := ctx.Err(); err != nil {
		return blueprint.PartialBlueprint{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[id]
	if !ok {
		return blueprint.PartialBlueprint{}, fmt.Errorf("%w: partial %s", store.ErrNotFound, id)
	}
	if expectedLock != store.NewSentinel && expectedLock != cur.VersionLock {
		return blueprint.PartialBlueprint{}, fmt.Errorf("%w: partial %s", store.ErrVersionMismatch, id)
	}
	updated := p.Apply(cur)
	updated.UpdatedAt = s.clock.Now()
	updated.VersionLock = newLock()
	s.data[id] = updated
	return updated, nil
}

func (s *PartialStore) Delete(ctx context.Context, id ice.PartialID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return fmt.Errorf("%w: partial %s", store.ErrNotFound, id)
	}
	delete(s.data, id)
	return nil
}

// BlueprintStore is an in-memory store.BlueprintStore. Blueprints are
// immutable once Put, so no version-lock handling is needed here.
type BlueprintStore struct {
	mu   sync.RWMutex
	data map[ice.BlueprintID]blueprint.Blueprint
}

func NewBlueprintStore() *BlueprintStore {
	return &BlueprintStore{data: make(map[ice.BlueprintID]blueprint.Blueprint)}
}

func (s *BlueprintStore) Put(ctx context.Context, bp blueprint.Blueprint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[bp.ID] = bp
	return nil
}

func (s *BlueprintStore) Get(ctx context.Context, id ice.BlueprintID) (blueprint.Blueprint, error) {
	if err := ctx.Err(); err != nil {
		return blueprint.Blueprint{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	bp, ok := s.data[id]
	if !ok {
		return blueprint.Blueprint{}, fmt.Errorf("%w: blueprint %s", store.ErrNotFound, id)
	}
	return bp, nil
}

func (s *BlueprintStore) List(ctx context.Context) ([]blueprint.Blueprint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]blueprint.Blueprint, 0, len(s.data))
	for _, bp := range s.data {
		out = append(out, bp)
	}
	return out, nil
}
