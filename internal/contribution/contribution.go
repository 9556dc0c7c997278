package contribution

import (
	"errors"
	"fmt"
	"time"
)

// Contribution is one scored piece of GitHub activity. It is built by the
// fetcher and never mutated after persistence.
type Contribution struct {
	Kind       Kind
	Title      string
	URL        string
	Repository string
	Points     int
	CreatedAt  time.Time
}

// New builds a Contribution with its points taken from the taxonomy.
func New(kind Kind, title, url, repository string, createdAt time.Time) (Contribution, error) {
	points, err := PointsFor(kind)
	if err != nil {
		return Contribution{}, err
	}
	c := Contribution{
		Kind:       kind,
		Title:      title,
		URL:        url,
		Repository: repository,
		Points:     points,
		CreatedAt:  createdAt,
	}
	return c, c.Validate()
}

// Validate rejects records missing a required field.
func (c Contribution) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(c.Kind))
	}
	var missing []string
	if c.URL == "" {
		missing = append(missing, "url")
	}
	if c.Title == "" {
		missing = append(missing, "title")
	}
	if c.Repository == "" {
		missing = append(missing, "repository")
	}
	if c.CreatedAt.IsZero() {
		missing = append(missing, "created_at")
	}
	if len(missing) > 0 {
		return fmt.Errorf("contribution %s missing %v: %w", c.URL, missing, ErrIncomplete)
	}
	return nil
}

// ErrIncomplete marks a record rejected at the boundary.
var ErrIncomplete = errors.New("incomplete contribution")

// Label is LabelFor without the error for kinds already validated.
func (c Contribution) Label() string {
	label, err := LabelFor(c.Kind)
	if err != nil {
		return "GitHub Activity"
	}
	return label
}

// TotalPoints sums points across contributions.
func TotalPoints(cs []Contribution) int {
	total := 0
	for _, c := range cs {
		total += c.Points
	}
	return total
}

// Breakdown sums points per kind.
func Breakdown(cs []Contribution) map[Kind]int {
	out := make(map[Kind]int, len(table))
	for _, c := range cs {
		out[c.Kind] += c.Points
	}
	return out
}
