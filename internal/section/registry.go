// Package section defines the closed set of marketing plan sections
// that interactions may attach to.
package section

// Sections lists every valid section identifier in document order.
// Interactions reference sections by these identifiers; anything else
// is invalid input, not a new section.
var Sections = []string{
	"executive-summary",
	"market-analysis",
	"swot-analysis",
	"marketing-strategy",
	"budget",
	"timeline",
	"kpis",
	"conclusion",
}

var valid = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Sections))
	for _, s := range Sections {
		m[s] = struct{}{}
	}
	return m
}()

// IsValid reports whether the identifier names a known section.
func IsValid(section string) bool {
	_, ok := valid[section]
	return ok
}
