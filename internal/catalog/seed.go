package catalog

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/normalize"
)

// SeedFile is the YAML layout accepted by Seed:
//
//	entities:
//	  - name: Alinma Bank
//	    kind: bank
//	    aliases: [مصرف الإنماء, Alinma]
type SeedFile struct {
	Entities []SeedEntity `yaml:"entities"`
}

// SeedEntity is one entity with its curated aliases.
type SeedEntity struct {
	Name    string   `yaml:"name"`
	Kind    string   `yaml:"kind"`
	Aliases []string `yaml:"aliases"`
}

// SeedResult counts what Seed wrote.
type SeedResult struct {
	EntitiesCreated  int `json:"entities_created"`
	EntitiesExisting int `json:"entities_existing"`
	AliasesAdded     int `json:"aliases_added"`
	AliasesSkipped   int `json:"aliases_skipped"`
}

// ParseSeed decodes and validates a seed file.
func ParseSeed(r io.Reader) (*SeedFile, error) {
	var f SeedFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if err == io.EOF {
			return &f, nil
		}
		return nil, eris.Wrap(err, "catalog: parse seed")
	}
	for i, e := range f.Entities {
		if _, err := model.ParseEntityKind(e.Kind); err != nil {
			return nil, eris.Wrapf(err, "catalog: seed entry %d (%q)", i, e.Name)
		}
		if normalize.Name(e.Name) == "" {
			return nil, eris.Errorf("catalog: seed entry %d has an empty name", i)
		}
	}
	return &f, nil
}

// Seed imports entities and manual aliases from YAML. It is idempotent:
// entities that already exist are reused, and aliases already on record as
// manual are skipped rather than having their usage bumped.
func (s *Service) Seed(ctx context.Context, r io.Reader) (*SeedResult, error) {
	f, err := ParseSeed(r)
	if err != nil {
		return nil, err
	}

	res := &SeedResult{}
	for _, se := range f.Entities {
		kind, _ := model.ParseEntityKind(se.Kind)
		e, created, err := s.createOrGet(ctx, kind, se.Name)
		if err != nil {
			return res, err
		}
		if created {
			res.EntitiesCreated++
		} else {
			res.EntitiesExisting++
		}

		known, err := s.Aliases(ctx, e.ID)
		if err != nil {
			return res, err
		}
		manual := make(map[string]bool, len(known))
		for _, a := range known {
			if a.Provenance == model.ProvenanceManual {
				manual[a.NormalizedKey] = true
			}
		}

		for _, raw := range se.Aliases {
			key := normalize.Name(raw)
			if key == "" || key == e.NormalizedKey || manual[key] {
				res.AliasesSkipped++
				continue
			}
			if _, err := s.AddManualAlias(ctx, e.ID, raw); err != nil {
				return res, err
			}
			manual[key] = true
			res.AliasesAdded++
		}
	}

	zap.L().Info("catalog: seed complete",
		zap.Int("entities_created", res.EntitiesCreated),
		zap.Int("entities_existing", res.EntitiesExisting),
		zap.Int("aliases_added", res.AliasesAdded),
	)
	return res, nil
}
