package model

// Evidence points at the textual provenance of an extracted value.
// A value with no evidence is untraceable and penalizes data quality.
type Evidence struct {
	Source      string          `json:"source"`                 // PMID:..., PMCID:..., URL, manual://user, calc://...
	Snippet     string          `json:"snippet,omitempty"`      // Excerpt around the matched value
	Location    string          `json:"location,omitempty"`     // Section tag (abstract, results, ...)
	ContextTags map[string]bool `json:"context_tags,omitempty"` // fed/fasted signals detected near the excerpt
}

// Traceable reports whether the evidence points to a real literature
// source. Calculated (calc://) and manual (manual://) provenance does
// not count.
func (e Evidence) Traceable() bool {
	return hasTraceablePrefix(e.Source)
}

func hasTraceablePrefix(src string) bool {
	for _, p := range []string{"PMID:", "pmid:", "PMCID:", "pmcid:", "http://", "https://"} {
		if len(src) >= len(p) && src[:len(p)] == p {
			return true
		}
	}
	return false
}

// SourceCandidate is one literature source returned by the search
// collaborator.
type SourceCandidate struct {
	RefID   string   `json:"ref_id"` // PMID or other stable identifier
	Title   string   `json:"title,omitempty"`
	Year    int      `json:"year,omitempty"`
	Species string   `json:"species,omitempty"` // human, animal, or empty when unknown
	Feeding string   `json:"feeding,omitempty"` // fed, fasted, or empty
	Tags    []string `json:"tags,omitempty"`    // BE, PK, review
}
