package chunkers

import "strings"

// subcategoryTable maps known URL or storage-path fragments to the
// subcategory recorded on chunks whose section URL contains them. First
// match wins; more specific fragments come first.
var subcategoryTable = []struct {
	fragment    string
	subcategory string
}{
	{"/api-reference/", "api-reference"},
	{"/reference/", "api-reference"},
	{"/tutorials/", "tutorial"},
	{"/guides/", "guide"},
	{"/how-to/", "guide"},
	{"/faq", "faq"},
	{"/changelog", "changelog"},
	{"/release-notes", "changelog"},
	{"/blog/", "blog"},
	{"/pricing", "pricing"},
	{"/legal/", "legal"},
	{"/uploads/", "uploaded-file"},
}

// SubcategoryForURL derives an optional subcategory by matching a section URL
// or storage path against the static table of known sub-sections. Returns an
// empty string when nothing matches.
func SubcategoryForURL(sectionURL string) string {
	lowered := strings.ToLower(sectionURL)
	for _, entry := range subcategoryTable {
		if strings.Contains(lowered, entry.fragment) {
			return entry.subcategory
		}
	}
	return ""
}
