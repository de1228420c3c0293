package domain

import (
	"regexp"
	"strings"
	"unicode"
)

// CategoryID identifies a tournament division
type CategoryID string

const (
	Category500to799  CategoryID = "500-799"
	Category500to999  CategoryID = "500-999"
	Category500to1199 CategoryID = "500-1199"
	Category500to1399 CategoryID = "500-1399"
	Category500to1799 CategoryID = "500-1799"
	CategoryTCFeminin CategoryID = "tc-feminin"
)

// Category is a division with its display label and product-name rule
type Category struct {
	ID      CategoryID     `json:"id"`
	Label   string         `json:"label"`
	Rank    int            `json:"rank"`
	Pattern *regexp.Regexp `json:"-"`
}

// Categories is ordered by rank; matching walks it in this order.
var Categories = []Category{
	{ID: Category500to799, Label: "500-799", Rank: 1, Pattern: regexp.MustCompile(`(?i)500[- ]?799|tableau\s*1`)},
	{ID: Category500to999, Label: "500-999", Rank: 2, Pattern: regexp.MustCompile(`(?i)500[- ]?999|tableau\s*2`)},
	{ID: Category500to1199, Label: "500-1199", Rank: 3, Pattern: regexp.MustCompile(`(?i)500[- ]?1199|tableau\s*3`)},
	{ID: Category500to1399, Label: "500-1399", Rank: 4, Pattern: regexp.MustCompile(`(?i)500[- ]?1399|tableau\s*4`)},
	{ID: Category500to1799, Label: "500-1799", Rank: 5, Pattern: regexp.MustCompile(`(?i)500[- ]?1799|tableau\s*5`)},
	{ID: CategoryTCFeminin, Label: "TC Féminin", Rank: 6, Pattern: regexp.MustCompile(`(?i)f[eé]minin|tc\s*f|women`)},
}

// MatchCategory returns the first category whose pattern matches the product name
func MatchCategory(productName string) (CategoryID, bool) {
	for _, c := range Categories {
		if c.Pattern.MatchString(productName) {
			return c.ID, true
		}
	}
	return "", false
}

// CategoryByID looks up a category definition
func CategoryByID(id CategoryID) (Category, bool) {
	for _, c := range Categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

// CategoryRank returns the display rank, or a value past the last category for unknown ids
func CategoryRank(id CategoryID) int {
	if c, ok := CategoryByID(id); ok {
		return c.Rank
	}
	return len(Categories) + 1
}

var licensePattern = regexp.MustCompile(`^\d{6,7}$`)

// CleanLicenseNumber strips whitespace and hyphens and validates the 6-7 digit format.
// Invalid input yields "" and false.
func CleanLicenseNumber(raw string) (string, bool) {
	cleaned := strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	if !licensePattern.MatchString(cleaned) {
		return "", false
	}
	return cleaned, true
}
