package catalog

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(name string, cat Category, price string) *CatalogEntry {
	e := &CatalogEntry{ID: uuid.New(), Category: cat, Price: decimal.RequireFromString(price), Active: true}
	e.SetName(name)
	return e
}

func testCatalog() []*CatalogEntry {
	return []*CatalogEntry{
		entry("Hemoglobin A1c", CategoryBloodWork, "35.00"),
		entry("Hemoglobin A1c - $35", CategoryBloodWork, "35.00"),
		entry("Comprehensive Drug Screen", CategoryDrugTesting, "140.00"),
		entry("Complete Blood Count (CBC)", CategoryBloodWork, "25.00"),
		entry("Complete Metabolic Panel", CategoryBloodWork, "45.00"),
		entry("Lipid Panel", CategoryBloodWork, "30.00"),
	}
}

func TestParsePriceSuffix(t *testing.T) {
	bare, price := ParsePriceSuffix("drug-screening-and-confirmation-$140")
	assert.Equal(t, "drug screening and confirmation", bare)
	require.NotNil(t, price)
	assert.True(t, price.Equal(decimal.NewFromInt(140)))

	bare, price = ParsePriceSuffix("  Lipid Panel ")
	assert.Equal(t, "Lipid Panel", bare)
	assert.Nil(t, price)

	_, price = ParsePriceSuffix("Thyroid-$19.99")
	assert.Nil(t, price, "decimal prices are not a suffix hint")
}

func TestResolve_ScenarioA_CategoryPrice(t *testing.T) {
	r := NewResolver(testCatalog())

	m := r.Resolve("drug-screening-and-confirmation-$140", "drug-testing")

	require.True(t, m.Matched())
	assert.Equal(t, StageCategoryPrice, m.Stage)
	assert.Equal(t, "Comprehensive Drug Screen", m.Entry.Name)
}

func TestResolve_ScenarioB_Exact(t *testing.T) {
	r := NewResolver(testCatalog())

	m := r.Resolve("Hemoglobin A1c", "")

	require.True(t, m.Matched())
	assert.Equal(t, StageExact, m.Stage)
	assert.Equal(t, "Hemoglobin A1c", m.Entry.Name)
}

func TestResolve_ExactBeatsFuzzy(t *testing.T) {
	// "extended lipid panel" contains "lipid panel" and sorts first, but the
	// exact entry must win.
	entries := []*CatalogEntry{
		entry("Extended Lipid Panel", CategoryBloodWork, "60.00"),
		entry("Lipid Panel", CategoryBloodWork, "30.00"),
	}
	r := NewResolver(entries)

	m := r.Resolve("lipid-panel", "")
	require.True(t, m.Matched())
	assert.Equal(t, StageExact, m.Stage)
	assert.Equal(t, "Lipid Panel", m.Entry.Name)
}

func TestResolve_CategoryPriceBeatsFuzzy(t *testing.T) {
	entries := []*CatalogEntry{
		entry("Basic Drug Screen", CategoryDrugTesting, "50.00"),
		entry("Urine Drug Panel", CategoryDrugTesting, "90.00"),
	}
	r := NewResolver(entries)

	m := r.Resolve("drug-screen-$90", "drug_testing")
	require.True(t, m.Matched())
	assert.Equal(t, StageCategoryPrice, m.Stage)
	assert.Equal(t, "Urine Drug Panel", m.Entry.Name)
}

func TestResolve_CategoryPriceNeedsBothHints(t *testing.T) {
	r := NewResolver([]*CatalogEntry{entry("Comprehensive Drug Screen", CategoryDrugTesting, "140.00")})

	assert.False(t, r.Resolve("screening-and-confirmation-$140", "").Matched())
	assert.False(t, r.Resolve("screening and confirmation", "drug-testing").Matched())
	assert.False(t, r.Resolve("screening-and-confirmation-$140", "unknown-category").Matched())
	assert.False(t, r.Resolve("screening-and-confirmation-$139", "drug-testing").Matched())
}

func TestResolve_Fuzzy(t *testing.T) {
	r := NewResolver(testCatalog())

	m := r.Resolve("CBC Complete Blood Count with differential", "")
	require.True(t, m.Matched())
	assert.Equal(t, StageFuzzy, m.Stage)
	assert.Equal(t, "Complete Blood Count (CBC)", m.Entry.Name)

	m = r.Resolve("metabolic", "")
	require.True(t, m.Matched())
	assert.Equal(t, StageFuzzy, m.Stage)
	assert.Equal(t, "Complete Metabolic Panel", m.Entry.Name)
}

func TestResolve_FuzzyFirstByNameOrder(t *testing.T) {
	entries := []*CatalogEntry{
		entry("Panel Zeta", CategoryOther, "10.00"),
		entry("Panel Alpha", CategoryOther, "10.00"),
	}
	r := NewResolver(entries)

	m := r.Resolve("panel", "")
	require.True(t, m.Matched())
	assert.Equal(t, "Panel Alpha", m.Entry.Name)
}

func TestResolve_Unmatched(t *testing.T) {
	r := NewResolver(testCatalog())

	for _, raw := range []string{"Genome Sequencing", "", "   ", "!!!"} {
		m := r.Resolve(raw, "")
		assert.False(t, m.Matched(), "raw %q", raw)
		assert.Equal(t, StageUnmatched, m.Stage)
	}
}

func TestResolve_IgnoresInactive(t *testing.T) {
	inactive := entry("Lipid Panel", CategoryBloodWork, "30.00")
	inactive.Active = false
	r := NewResolver([]*CatalogEntry{inactive})

	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Resolve("Lipid Panel", "").Matched())
}

func TestResolveAll(t *testing.T) {
	r := NewResolver(testCatalog())

	ms := r.ResolveAll([]string{"Lipid Panel", "nothing here", "Hemoglobin A1c"}, "")
	require.Len(t, ms, 3)
	assert.True(t, ms[0].Matched())
	assert.False(t, ms[1].Matched())
	assert.True(t, ms[2].Matched())
}
