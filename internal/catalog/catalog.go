// Package catalog manages canonical entities and their manual aliases: the
// collaborator that creates an entity when resolution finds nothing.
package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/normalize"
	"github.com/sells-group/entity-resolver/internal/store"
)

// Store is the storage the catalog needs.
type Store interface {
	store.EntityStore
	ListAliasesForEntity(ctx context.Context, entityID string) ([]model.Alias, error)
	ListAliases(ctx context.Context, kind model.EntityKind) ([]model.Alias, error)
	UpsertAlias(ctx context.Context, entityID, rawText string, provenance model.Provenance) (*model.Alias, error)
}

// Service creates, renames, and lists canonical entities.
type Service struct {
	store Store
}

// New creates a catalog Service.
func New(s Store) *Service {
	return &Service{store: s}
}

// CreateEntity adds a canonical entity. The name must normalize to a
// non-empty key that no other entity of the kind already holds.
func (s *Service) CreateEntity(ctx context.Context, kind model.EntityKind, name string) (*model.CanonicalEntity, error) {
	if !kind.Valid() {
		return nil, eris.Errorf("catalog: unknown entity kind %q", kind)
	}
	name = strings.TrimSpace(name)
	e := &model.CanonicalEntity{
		Kind:          kind,
		Name:          name,
		NormalizedKey: normalize.Name(name),
	}
	if e.NormalizedKey == "" {
		return nil, eris.Wrapf(store.ErrEmptyKey, "catalog: create %q", name)
	}
	if err := s.store.CreateEntity(ctx, e); err != nil {
		return nil, eris.Wrapf(err, "catalog: create %q", name)
	}
	zap.L().Info("catalog: entity created",
		zap.String("entity_id", e.ID),
		zap.String("kind", string(kind)),
		zap.String("name", name),
	)
	return e, nil
}

// Rename changes an entity's display name and recomputes its key. Existing
// aliases, feedback, and decision history keep pointing at the same ID.
func (s *Service) Rename(ctx context.Context, id, name string) (*model.CanonicalEntity, error) {
	name = strings.TrimSpace(name)
	key := normalize.Name(name)
	if key == "" {
		return nil, eris.Wrapf(store.ErrEmptyKey, "catalog: rename %s", id)
	}
	e, err := s.store.RenameEntity(ctx, id, name, key)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: rename %s", id)
	}
	return e, nil
}

// AddManualAlias records a curated spelling for an entity. Manual aliases
// short-circuit resolution.
func (s *Service) AddManualAlias(ctx context.Context, entityID, rawText string) (*model.Alias, error) {
	a, err := s.store.UpsertAlias(ctx, entityID, rawText, model.ProvenanceManual)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: add alias to %s", entityID)
	}
	return a, nil
}

// Get returns one entity.
func (s *Service) Get(ctx context.Context, id string) (*model.CanonicalEntity, error) {
	e, err := s.store.GetEntity(ctx, id)
	return e, eris.Wrap(err, "catalog: get")
}

// List returns every entity of a kind ordered by name.
func (s *Service) List(ctx context.Context, kind model.EntityKind) ([]model.CanonicalEntity, error) {
	if !kind.Valid() {
		return nil, eris.Errorf("catalog: unknown entity kind %q", kind)
	}
	out, err := s.store.ListEntities(ctx, kind)
	return out, eris.Wrap(err, "catalog: list")
}

// Aliases returns the aliases of one entity, most used first.
func (s *Service) Aliases(ctx context.Context, entityID string) ([]model.Alias, error) {
	out, err := s.store.ListAliasesForEntity(ctx, entityID)
	return out, eris.Wrap(err, "catalog: aliases")
}

// FindByName returns the entity of kind whose key equals name's key, or
// nil.
func (s *Service) FindByName(ctx context.Context, kind model.EntityKind, name string) (*model.CanonicalEntity, error) {
	key := normalize.Name(name)
	if key == "" {
		return nil, nil
	}
	all, err := s.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].NormalizedKey == key {
			return &all[i], nil
		}
	}
	return nil, nil
}

// createOrGet creates an entity or returns the existing one with the same
// key. The bool reports whether it was created.
func (s *Service) createOrGet(ctx context.Context, kind model.EntityKind, name string) (*model.CanonicalEntity, bool, error) {
	e, err := s.CreateEntity(ctx, kind, name)
	if err == nil {
		return e, true, nil
	}
	if !errors.Is(err, store.ErrDuplicateEntity) {
		return nil, false, err
	}
	existing, ferr := s.FindByName(ctx, kind, name)
	if ferr != nil {
		return nil, false, ferr
	}
	if existing == nil {
		return nil, false, err
	}
	return existing, false, nil
}
