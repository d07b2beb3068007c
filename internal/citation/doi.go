package citation

import "strings"

const openAlexPrefix = "openalex:"

var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi:",
}

// NormalizeDOI lowercases a DOI and strips resolver prefixes.
func NormalizeDOI(raw string) string {
	doi := strings.ToLower(strings.TrimSpace(raw))
	for _, prefix := range doiPrefixes {
		if strings.HasPrefix(doi, prefix) {
			doi = doi[len(prefix):]
			break
		}
	}
	return strings.TrimSpace(doi)
}

// ShortOpenAlexID reduces an OpenAlex work URL or prefixed id to its bare W-identifier.
func ShortOpenAlexID(raw string) string {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, openAlexPrefix)
	if idx := strings.LastIndex(id, "/"); idx >= 0 {
		id = id[idx+1:]
	}
	return strings.ToUpper(id)
}

// NodeID picks the identifier of a work inside a subgraph: the normalized DOI
// when present, otherwise the prefixed OpenAlex id.
func NodeID(doi, openAlexID string) string {
	if d := NormalizeDOI(doi); d != "" {
		return d
	}
	if w := ShortOpenAlexID(openAlexID); w != "" {
		return openAlexPrefix + w
	}
	return ""
}

// IsOpenAlexNodeID reports whether id refers to a work without a DOI.
func IsOpenAlexNodeID(id string) bool {
	return strings.HasPrefix(id, openAlexPrefix)
}
