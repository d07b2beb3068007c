// Package features derives per-seed network statistics from a citation subgraph.
package features

import (
	"sort"

	"github.com/JakeFAU/citenet/internal/citation"
)

const seedIndex = 0

// Compute derives the feature row for sg. Metrics that are undefined for the
// subgraph, such as clustering with fewer than two neighbors, are reported as 0.
// The result depends only on sg and w.
func Compute(sg *citation.Subgraph, w Weighting) citation.FeatureRow {
	if w == nil {
		w = Inverse{}
	}
	row := citation.FeatureRow{
		DOI:          sg.Seed,
		Status:       sg.Status,
		Truncated:    sg.Truncated(),
		NNodes:       len(sg.Nodes),
		DepthReached: sg.DepthReached,
	}
	for _, n := range sg.Nodes {
		if n.Stub {
			row.NStubs++
		}
	}
	if len(sg.Nodes) == 0 {
		return row
	}

	g := newEgoGraph(sg)
	n := g.size()
	row.NEdges = len(g.edges)
	row.InDegree = g.inDegree(seedIndex)
	row.OutDegree = g.outDegree(seedIndex)
	if n > 1 {
		row.DegreeCentrality = float64(g.neighbors(seedIndex)) / float64(n-1)
		row.Density = float64(len(g.edges)) / float64(n*(n-1))
	}
	row.Clustering = g.clustering(seedIndex)
	row.Betweenness = g.betweenness(seedIndex)
	outDeg := make([]int, n)
	for i := range outDeg {
		outDeg[i] = g.outDegree(i)
	}
	row.GiniOutDegree = gini(outDeg)
	row.Modularity = g.modularity()

	seed := g.nodes[seedIndex]
	row.FieldHomophilyD1 = homophilyAtDepthOne(g, func(n citation.Node) string { return n.Field }, seed.Field)
	row.VenueHomophilyD1 = homophilyAtDepthOne(g, func(n citation.Node) string { return n.Venue }, seed.Venue)
	row.InstitutionHomophilyD1 = institutionHomophily(g, seed)
	row.FieldHomophilyWeighted = weightedFieldHomophily(g, seed.Field, w)
	row.FieldAssortativity = fieldAssortativity(g)

	co := newCoauthorship(sg)
	row.AuthorInstitutionAssortativity = co.assortativity(func(a citation.Author) string { return a.Institution })
	row.AuthorCountryAssortativity = co.assortativity(func(a citation.Author) string { return a.Country })
	row.AuthorTopicAssortativity = co.assortativity(func(a citation.Author) string { return a.Topic })
	row.RootSameInstitutionFrac = co.rootSameInstitution(sg.Seed)
	return row
}

// gini is the Gini coefficient of non-negative values.
func gini(values []int) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	sum, weighted := 0.0, 0.0
	for i, v := range sorted {
		sum += float64(v)
		weighted += float64(i+1) * float64(v)
	}
	if sum == 0 {
		return 0
	}
	fn := float64(n)
	return (2*weighted)/(fn*sum) - (fn+1)/fn
}

func homophilyAtDepthOne(g *egoGraph, label func(citation.Node) string, seedLabel string) float64 {
	if seedLabel == "" {
		return 0
	}
	same, labeled := 0, 0
	for _, n := range g.nodes[1:] {
		if n.Depth != 1 || n.Stub {
			continue
		}
		l := label(n)
		if l == "" {
			continue
		}
		labeled++
		if l == seedLabel {
			same++
		}
	}
	if labeled == 0 {
		return 0
	}
	return float64(same) / float64(labeled)
}

func institutionHomophily(g *egoGraph, seed citation.Node) float64 {
	if len(seed.Institutions) == 0 {
		return 0
	}
	seedInst := make(map[string]struct{}, len(seed.Institutions))
	for _, inst := range seed.Institutions {
		seedInst[inst] = struct{}{}
	}
	shared, labeled := 0, 0
	for _, n := range g.nodes[1:] {
		if n.Depth != 1 || n.Stub || len(n.Institutions) == 0 {
			continue
		}
		labeled++
		for _, inst := range n.Institutions {
			if _, ok := seedInst[inst]; ok {
				shared++
				break
			}
		}
	}
	if labeled == 0 {
		return 0
	}
	return float64(shared) / float64(labeled)
}

func weightedFieldHomophily(g *egoGraph, seedField string, w Weighting) float64 {
	if seedField == "" {
		return 0
	}
	num, den := 0.0, 0.0
	for _, n := range g.nodes[1:] {
		if n.Stub || n.Field == "" || n.Depth < 1 {
			continue
		}
		weight := w.Weight(n.Depth)
		den += weight
		if n.Field == seedField {
			num += weight
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// fieldAssortativity is Newman's attribute assortativity of the field label
// over directed edges whose endpoints are both labeled.
func fieldAssortativity(g *egoGraph) float64 {
	var pairs [][2]string
	for _, e := range g.edges {
		a, b := g.nodes[e[0]].Field, g.nodes[e[1]].Field
		if a == "" || b == "" {
			continue
		}
		pairs = append(pairs, [2]string{a, b})
	}
	return assortativity(pairs)
}

// assortativity is Newman's attribute assortativity coefficient of labeled
// pairs. A pair list without variance reports 0.
func assortativity(pairs [][2]string) float64 {
	if len(pairs) == 0 {
		return 0
	}
	labels := make(map[string]int)
	for _, p := range pairs {
		labels[p[0]] = 0
		labels[p[1]] = 0
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		labels[k] = i
	}

	k := len(keys)
	mix := make([][]int, k)
	for i := range mix {
		mix[i] = make([]int, k)
	}
	for _, p := range pairs {
		mix[labels[p[0]]][labels[p[1]]]++
	}

	total := len(pairs)
	diag, marginal := 0, 0
	for i := 0; i < k; i++ {
		diag += mix[i][i]
		rowSum, colSum := 0, 0
		for j := 0; j < k; j++ {
			rowSum += mix[i][j]
			colSum += mix[j][i]
		}
		marginal += rowSum * colSum
	}
	sq := total * total
	if sq == marginal {
		return 0
	}
	// r = (tr(e) - sum a_i b_i) / (1 - sum a_i b_i) with e = counts / total.
	return float64(diag*total-marginal) / float64(sq-marginal)
}
