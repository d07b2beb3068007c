package features

import (
	"sort"

	"github.com/JakeFAU/citenet/internal/citation"
)

// coauthorship is the author projection of a subgraph: two authors are linked
// when they are credited on the same work.
type coauthorship struct {
	authors map[string]citation.Author
	links   [][2]string
	adj     map[string][]string
	credits map[string][]string // work id -> author ids
}

func newCoauthorship(sg *citation.Subgraph) *coauthorship {
	c := &coauthorship{
		authors: make(map[string]citation.Author, len(sg.Authors)),
		adj:     make(map[string][]string),
		credits: make(map[string][]string),
	}
	for _, a := range sg.Authors {
		c.authors[a.ID] = a
	}
	var works []string
	for _, e := range sg.AuthorEdges {
		if _, ok := c.credits[e.Work]; !ok {
			works = append(works, e.Work)
		}
		c.credits[e.Work] = append(c.credits[e.Work], e.Author)
	}
	seen := make(map[[2]string]struct{})
	for _, w := range works {
		ids := c.credits[w]
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				a, b := ids[i], ids[j]
				if a == b {
					continue
				}
				if b < a {
					a, b = b, a
				}
				key := [2]string{a, b}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				c.links = append(c.links, key)
				c.adj[a] = append(c.adj[a], b)
				c.adj[b] = append(c.adj[b], a)
			}
		}
	}
	return c
}

// assortativity counts every co-author link in both directions.
func (c *coauthorship) assortativity(label func(citation.Author) string) float64 {
	pairs := make([][2]string, 0, 2*len(c.links))
	for _, l := range c.links {
		a, b := label(c.authors[l[0]]), label(c.authors[l[1]])
		if a == "" || b == "" {
			continue
		}
		pairs = append(pairs, [2]string{a, b}, [2]string{b, a})
	}
	return assortativity(pairs)
}

// rootSameInstitution is the share of co-author links of the seed's authors
// that reach an author at the same known institution.
func (c *coauthorship) rootSameInstitution(seed string) float64 {
	roots := append([]string(nil), c.credits[seed]...)
	sort.Strings(roots)
	same, total := 0, 0
	for i, r := range roots {
		if i > 0 && roots[i-1] == r {
			continue
		}
		inst := c.authors[r].Institution
		for _, nb := range c.adj[r] {
			total++
			if inst != "" && c.authors[nb].Institution == inst {
				same++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(same) / float64(total)
}
