package snippets

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidAbbreviation indicates that an abbreviation is empty or whitespace only.
var ErrInvalidAbbreviation = errors.New("snippets: invalid abbreviation")

// Abbreviation is the unique trigger text of a snippet.
type Abbreviation string

// NewAbbreviation validates raw input and returns an Abbreviation.
// The value is stored exactly as given; only blank input is rejected.
func NewAbbreviation(rawInput string) (Abbreviation, error) {
	if strings.TrimSpace(rawInput) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAbbreviation)
	}
	return Abbreviation(rawInput), nil
}

// String returns the underlying abbreviation text.
func (a Abbreviation) String() string {
	return string(a)
}

// Snippet models a persisted abbreviation and its expansion.
type Snippet struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Abbreviation string    `gorm:"column:abbv;not null;uniqueIndex"`
	Expansion    string    `gorm:"column:value;not null"`
	UsageCount   int64     `gorm:"column:usage_count;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;default:CURRENT_TIMESTAMP;<-:false"`
}

// TableName provides the explicit table binding for GORM.
func (Snippet) TableName() string {
	return "snippets"
}

// SearchResult is a ranked entry returned by Search.
type SearchResult struct {
	Abbreviation string `gorm:"column:abbv"`
	Expansion    string `gorm:"column:value"`
	UsageCount   int64  `gorm:"column:usage_count"`
}
