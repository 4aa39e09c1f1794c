package intake

import (
	"strings"

	"github.com/labflow/intake/internal/platform/webhook"
)

// Extracted holds the logical fields found in a submission. Empty strings mean
// absent; Tests is never nil.
type Extracted struct {
	PatientName    string
	DateOfBirth    string
	Phone          string
	SecondaryPhone string
	Address        string
	PhysicianName  string
	ClinicAddress  string
	ScheduleDate   string
	ScheduleTime   string
	DateOfOrder    string
	CategoryHint   string
	Tests          []string
}

// Extract resolves each logical field from the first candidate key holding a
// non-blank value.
func Extract(fields webhook.Fields, fm FieldMap) Extracted {
	return Extracted{
		PatientName:    firstValue(fields, fm.PatientName),
		DateOfBirth:    firstValue(fields, fm.DateOfBirth),
		Phone:          firstValue(fields, fm.Phone),
		SecondaryPhone: firstValue(fields, fm.SecondaryPhone),
		Address:        firstValue(fields, fm.Address),
		PhysicianName:  firstValue(fields, fm.PhysicianName),
		ClinicAddress:  firstValue(fields, fm.ClinicAddress),
		ScheduleDate:   firstValue(fields, fm.ScheduleDate),
		ScheduleTime:   firstValue(fields, fm.ScheduleTime),
		DateOfOrder:    firstValue(fields, fm.DateOfOrder),
		CategoryHint:   firstValue(fields, fm.CategoryHint),
		Tests:          testNames(fields, fm.Tests),
	}
}

func firstValue(fields webhook.Fields, keys []string) string {
	for _, k := range keys {
		if v, ok := fields.String(k); ok {
			if v = text(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// testNames accepts a comma separated string or a list. The first candidate
// key yielding at least one name wins.
func testNames(fields webhook.Fields, keys []string) []string {
	for _, k := range keys {
		var names []string
		switch v := fields[k].(type) {
		case string:
			names = clean(strings.Split(v, ","))
		case []string:
			names = clean(v)
		}
		if len(names) > 0 {
			return names
		}
	}
	return []string{}
}

func clean(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if v = text(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// text trims v and drops what a text column cannot hold: NUL bytes are
// removed and invalid UTF-8 becomes U+FFFD.
func text(v string) string {
	v = strings.ReplaceAll(v, "\x00", "")
	return strings.TrimSpace(strings.ToValidUTF8(v, "\uFFFD"))
}
