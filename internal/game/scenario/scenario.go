// Package scenario defines the ordered list of case scenarios a group
// progresses through. Scenario content (the charts themselves) is rendered by
// clients; the engine only needs titles and the report context.
package scenario

// Context steers the tone of a drafted report.
type Context string

const (
	// ContextMarketing frames the case as a marketing performance review.
	ContextMarketing Context = "MARKETING"
	// ContextPolicy frames the case as a public policy brief.
	ContextPolicy Context = "POLICY"
)

// Scenario is one case in the fixed, ordered catalog.
type Scenario struct {
	Title   string
	Context Context
}

// Catalog is an ordered, immutable list of case scenarios.
type Catalog struct {
	scenarios []Scenario
}

// NewCatalog builds a catalog from the given ordered scenarios.
func NewCatalog(scenarios []Scenario) Catalog {
	return Catalog{scenarios: append([]Scenario(nil), scenarios...)}
}

// Default returns the built-in case catalog.
func Default() Catalog {
	return NewCatalog([]Scenario{
		{Title: `Case File #8821: "Marketing Growth"`, Context: ContextMarketing},
		{Title: `Case File #4410: "Policy Impact"`, Context: ContextPolicy},
		{Title: `Case File #9137: "Quarterly Momentum"`, Context: ContextMarketing},
		{Title: `Case File #2205: "Budget Outcomes"`, Context: ContextPolicy},
	})
}

// Len returns the number of scenarios in the catalog.
func (c Catalog) Len() int {
	return len(c.scenarios)
}

// At returns the scenario at index, or false when the index is out of range.
func (c Catalog) At(index int) (Scenario, bool) {
	if index < 0 || index >= len(c.scenarios) {
		return Scenario{}, false
	}
	return c.scenarios[index], true
}
