package catalog

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Stage names the resolver step that produced a match.
type Stage string

const (
	StageExact         Stage = "exact"
	StageCategoryPrice Stage = "category_price"
	StageFuzzy         Stage = "fuzzy"
	StageUnmatched     Stage = "unmatched"
)

var priceSuffixHint = regexp.MustCompile(`^(.*?)-\$(\d+)$`)

// Match is the outcome of resolving one submitted test name.
type Match struct {
	Raw       string
	BareName  string
	Key       string
	PriceHint *decimal.Decimal
	Entry     *CatalogEntry
	Stage     Stage
}

func (m Match) Matched() bool {
	return m.Entry != nil
}

// ParsePriceSuffix splits "<name>-$<integer>" into a bare name with dashes
// turned into spaces and the price. Other inputs are returned trimmed with no
// price.
func ParsePriceSuffix(raw string) (string, *decimal.Decimal) {
	raw = strings.TrimSpace(raw)
	m := priceSuffixHint.FindStringSubmatch(raw)
	if m == nil {
		return raw, nil
	}
	price, err := decimal.NewFromString(m[2])
	if err != nil {
		return raw, nil
	}
	return strings.TrimSpace(strings.ReplaceAll(m[1], "-", " ")), &price
}

// Resolver matches test names against an immutable set of active catalog
// entries. It is safe for concurrent use.
type Resolver struct {
	entries []*CatalogEntry
	byKey   map[string]*CatalogEntry
}

// NewResolver keeps the active entries, ordered by name then id. That order
// decides ties in every stage.
func NewResolver(entries []*CatalogEntry) *Resolver {
	active := make([]*CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if e != nil && e.Active {
			active = append(active, e)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Name != active[j].Name {
			return active[i].Name < active[j].Name
		}
		return active[i].ID.String() < active[j].ID.String()
	})

	byKey := make(map[string]*CatalogEntry, len(active))
	for _, e := range active {
		if e.SearchKey == "" {
			continue
		}
		if _, dup := byKey[e.SearchKey]; !dup {
			byKey[e.SearchKey] = e
		}
	}
	return &Resolver{entries: active, byKey: byKey}
}

func (r *Resolver) Len() int {
	return len(r.entries)
}

// Resolve runs the stages in order and returns the first hit: exact search
// key, then category plus price (both hints required), then substring
// containment in either direction.
func (r *Resolver) Resolve(raw, categoryHint string) Match {
	bare, price := ParsePriceSuffix(raw)
	m := Match{Raw: raw, BareName: bare, Key: CanonicalKey(bare), PriceHint: price, Stage: StageUnmatched}

	if e, ok := r.byKey[m.Key]; ok && m.Key != "" {
		m.Entry, m.Stage = e, StageExact
		return m
	}

	if cat, ok := ParseCategoryHint(categoryHint); ok && price != nil {
		for _, e := range r.entries {
			if e.Category == cat && e.Price.Equal(*price) {
				m.Entry, m.Stage = e, StageCategoryPrice
				return m
			}
		}
	}

	if m.Key != "" {
		for _, e := range r.entries {
			if e.SearchKey == "" {
				continue
			}
			if strings.Contains(e.SearchKey, m.Key) || strings.Contains(m.Key, e.SearchKey) {
				m.Entry, m.Stage = e, StageFuzzy
				return m
			}
		}
	}

	return m
}

// ResolveAll resolves each name in order.
func (r *Resolver) ResolveAll(names []string, categoryHint string) []Match {
	out := make([]Match, 0, len(names))
	for _, n := range names {
		out = append(out, r.Resolve(n, categoryHint))
	}
	return out
}
