package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category is the closed set of catalog groupings.
type Category string

const (
	CategoryBloodWork         Category = "blood_work"
	CategoryDrugTesting       Category = "drug_testing"
	CategorySTDTesting        Category = "std_testing"
	CategoryHormoneTesting    Category = "hormone_testing"
	CategoryWellnessPanel     Category = "wellness_panel"
	CategoryAllergyTesting    Category = "allergy_testing"
	CategoryGeneticTesting    Category = "genetic_testing"
	CategoryInfectiousDisease Category = "infectious_disease"
	CategoryUrinalysis        Category = "urinalysis"
	CategoryOther             Category = "other"
)

var Categories = []Category{
	CategoryBloodWork,
	CategoryDrugTesting,
	CategorySTDTesting,
	CategoryHormoneTesting,
	CategoryWellnessPanel,
	CategoryAllergyTesting,
	CategoryGeneticTesting,
	CategoryInfectiousDisease,
	CategoryUrinalysis,
	CategoryOther,
}

func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// ParseCategoryHint maps free text such as "drug-testing" or "Drug Testing"
// onto a known category.
func ParseCategoryHint(s string) (Category, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	s = strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == '-' || r == '_' || r == ' ' || r == '/'
	}), "_")
	c := Category(s)
	return c, c.Valid()
}

// CatalogEntry is a priced, orderable test. SearchKey is always
// CanonicalKey(Name); use SetName to keep them in step.
type CatalogEntry struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	SearchKey string          `json:"search_key"`
	Category  Category        `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (e *CatalogEntry) SetName(name string) {
	e.Name = strings.TrimSpace(name)
	e.SearchKey = CanonicalKey(e.Name)
}
