package catalog

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Resolver loads the active catalog once. Callers resolve every test of a
// submission against the same snapshot.
func (s *Service) Resolver(ctx context.Context) (*Resolver, error) {
	entries, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return NewResolver(entries), nil
}

// SeedFile is the YAML layout accepted by Seed.
type SeedFile struct {
	Entries []SeedEntry `yaml:"entries"`
}

type SeedEntry struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Price    string `yaml:"price"`
	Active   *bool  `yaml:"active"`
}

// SeedResult summarises a Seed run.
type SeedResult struct {
	Total   int
	Created int
	Updated int
}

// ParseSeed decodes and validates a seed document. Entries default to active.
func ParseSeed(r io.Reader) ([]*CatalogEntry, error) {
	var f SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("seed file is empty")
		}
		return nil, fmt.Errorf("decode seed file: %w", err)
	}

	seen := make(map[string]bool, len(f.Entries))
	out := make([]*CatalogEntry, 0, len(f.Entries))
	for i, se := range f.Entries {
		name := strings.TrimSpace(se.Name)
		if name == "" {
			return nil, fmt.Errorf("entry %d: name is required", i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("entry %d: duplicate name %q", i+1, name)
		}
		seen[name] = true

		cat := Category(strings.TrimSpace(se.Category))
		if !cat.Valid() {
			return nil, fmt.Errorf("entry %q: unknown category %q", name, se.Category)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(se.Price))
		if err != nil {
			return nil, fmt.Errorf("entry %q: invalid price %q: %w", name, se.Price, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("entry %q: price must not be negative", name)
		}
		if !price.Equal(price.Round(2)) {
			return nil, fmt.Errorf("entry %q: price %s has more than two decimals", name, se.Price)
		}

		e := &CatalogEntry{Category: cat, Price: price, Active: true}
		if se.Active != nil {
			e.Active = *se.Active
		}
		e.SetName(name)
		if e.SearchKey == "" {
			return nil, fmt.Errorf("entry %q: name has no searchable characters", name)
		}
		out = append(out, e)
	}
	return out, nil
}

// Seed upserts every entry of a seed document by name.
func (s *Service) Seed(ctx context.Context, r io.Reader) (*SeedResult, error) {
	entries, err := ParseSeed(r)
	if err != nil {
		return nil, err
	}
	created, err := s.repo.UpsertByName(ctx, entries)
	if err != nil {
		return nil, err
	}
	return &SeedResult{Total: len(entries), Created: created, Updated: len(entries) - created}, nil
}
