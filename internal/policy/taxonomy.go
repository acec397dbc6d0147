package policy

import "fmt"

// Category is a top-level class of sensitive data.
type Category string

const (
	CategoryPersonal  Category = "personalData"
	CategoryMedical   Category = "medicalData"
	CategoryFinancial Category = "financialData"
)

// Categories lists every known category in report order.
var Categories = []Category{CategoryPersonal, CategoryMedical, CategoryFinancial}

// DataType is the kind of value within a category.
type DataType string

const (
	TypeNames       DataType = "names"
	TypeIdentifiers DataType = "identifiers"
	TypeContactInfo DataType = "contactInfo"
	TypeDates       DataType = "dates"
	TypeLocations   DataType = "locations"
	TypeProviders   DataType = "providers"
	TypeInsurance   DataType = "insurance"
)

// Target selects detections by category and, optionally, type.
// An empty Type matches every type in the category.
type Target struct {
	Category Category `json:"category" yaml:"category"`
	Type     DataType `json:"type,omitempty" yaml:"type,omitempty"`
}

// Matches reports whether a detection of the given category and type is selected.
func (t Target) Matches(category Category, dataType DataType) bool {
	return t.Category == category && (t.Type == "" || t.Type == dataType)
}

// String renders the target as "category.type" or just "category".
func (t Target) String() string {
	if t.Type == "" {
		return string(t.Category)
	}
	return TypeKey(t.Category, t.Type)
}

// TypeKey formats the summary key for a category/type pair.
func TypeKey(category Category, dataType DataType) string {
	return fmt.Sprintf("%s.%s", category, dataType)
}
