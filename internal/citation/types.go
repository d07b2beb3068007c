// Package citation holds the shared data model for citation subgraph crawls.
package citation

// Status summarizes how a subgraph crawl terminated.
type Status string

const (
	// StatusExhausted means the BFS ran out of candidates within the depth bound.
	StatusExhausted Status = "exhausted"
	// StatusTruncated means the node cap cut the BFS short.
	StatusTruncated Status = "truncated"
	// StatusNotFound means the seed does not resolve in the bibliographic API.
	StatusNotFound Status = "not_found"
	// StatusUnavailable means the seed could not be fetched after retries.
	StatusUnavailable Status = "unavailable"
)

// Seed identifies one root publication assigned to a chunk.
type Seed struct {
	DOI string `json:"doi"`
	// CutoffYear excludes non-seed nodes published after it. Zero disables the cutoff.
	CutoffYear int `json:"cutoff_year,omitempty"`
}

// Node is one publication inside a subgraph.
type Node struct {
	ID             string   `json:"id"`
	DOI            string   `json:"doi,omitempty"`
	OpenAlexID     string   `json:"openalex_id,omitempty"`
	Title          string   `json:"title,omitempty"`
	Year           int      `json:"year,omitempty"`
	Field          string   `json:"field,omitempty"`
	Subfield       string   `json:"subfield,omitempty"`
	Venue          string   `json:"venue,omitempty"`
	Institutions   []string `json:"institutions,omitempty"`
	CitedByCount   int      `json:"cited_by_count,omitempty"`
	ReferenceCount int      `json:"reference_count,omitempty"`
	Depth          int      `json:"depth"`
	// Stub marks a node whose metadata could not be retrieved.
	Stub bool `json:"stub,omitempty"`
	// PartialEdges marks a node whose neighbor listing hit the page cap.
	PartialEdges bool `json:"partial_edges,omitempty"`
	// Authorships are carried from the fetcher to the crawler, which folds
	// them into Subgraph.Authors and Subgraph.AuthorEdges.
	Authorships []Authorship `json:"-"`
}

// Authorship is one author's credit on a work as reported by the API.
type Authorship struct {
	AuthorID     string
	Name         string
	Institutions []string
	Country      string
}

// Author is a person credited on at least one admitted work. Institution and
// Country come from the first authorship that lists them; Topic is the field
// of the first work that credits the author.
type Author struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Institution string `json:"institution,omitempty"`
	Country     string `json:"country,omitempty"`
	Topic       string `json:"topic,omitempty"`
}

// AuthorEdge links an author to a work they wrote.
type AuthorEdge struct {
	Author string `json:"author"`
	Work   string `json:"work"`
}

// Edge is a directed citation: Source cites Target.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Subgraph is the bounded BFS neighborhood around one seed.
type Subgraph struct {
	Seed         string `json:"seed"`
	Status       Status `json:"status"`
	MaxDepth     int    `json:"max_depth"`
	MaxNodes     int    `json:"max_nodes"`
	DepthReached int    `json:"depth_reached"`
	// Nodes are stored in BFS discovery order; the seed is always first.
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	// Authors are listed in first-credit order over Nodes.
	Authors     []Author     `json:"authors,omitempty"`
	AuthorEdges []AuthorEdge `json:"author_edges,omitempty"`
}

// Truncated reports whether the node cap stopped the crawl.
func (s *Subgraph) Truncated() bool {
	return s.Status == StatusTruncated
}

// FeatureRow is the flat per-seed record appended to a chunk's feature table.
type FeatureRow struct {
	DOI                    string
	Status                 Status
	Truncated              bool
	NNodes                 int
	NEdges                 int
	NStubs                 int
	DepthReached           int
	InDegree               int
	OutDegree              int
	DegreeCentrality       float64
	Density                float64
	Clustering             float64
	Betweenness            float64
	GiniOutDegree          float64
	FieldHomophilyD1       float64
	VenueHomophilyD1       float64
	InstitutionHomophilyD1 float64
	FieldHomophilyWeighted float64
	FieldAssortativity     float64
	Modularity             float64
	// Author* metrics are attribute assortativity on the co-authorship
	// projection of the subgraph's authors.
	AuthorInstitutionAssortativity float64
	AuthorCountryAssortativity     float64
	AuthorTopicAssortativity       float64
	// RootSameInstitutionFrac is the share of the seed authors' co-author
	// links that stay within the seed author's institution.
	RootSameInstitutionFrac float64
}
