package features

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/JakeFAU/citenet/internal/citation"
)

// louvainSeed fixes the community search so a recomputed row is identical.
const louvainSeed = 0x5eed

// egoGraph holds a subgraph as gonum directed and undirected views. Node i of
// nodes (index 0 is the seed) has gonum id gid[i], its rank in sorted id order.
type egoGraph struct {
	nodes      []citation.Node
	gid        []int64
	directed   *simple.DirectedGraph
	undirected *simple.UndirectedGraph
	// edges holds deduplicated directed edges as node index pairs, in
	// subgraph order.
	edges [][2]int
}

func newEgoGraph(sg *citation.Subgraph) *egoGraph {
	g := &egoGraph{
		directed:   simple.NewDirectedGraph(),
		undirected: simple.NewUndirectedGraph(),
	}
	index := make(map[string]int, len(sg.Nodes))
	for _, n := range sg.Nodes {
		if _, dup := index[n.ID]; dup {
			continue
		}
		index[n.ID] = len(g.nodes)
		g.nodes = append(g.nodes, n)
	}

	order := make([]int, len(g.nodes))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return g.nodes[order[a]].ID < g.nodes[order[b]].ID })
	g.gid = make([]int64, len(g.nodes))
	for rank, i := range order {
		g.gid[i] = int64(rank)
		g.directed.AddNode(simple.Node(rank))
		g.undirected.AddNode(simple.Node(rank))
	}

	for _, e := range sg.Edges {
		s, okS := index[e.Source]
		t, okT := index[e.Target]
		if !okS || !okT || s == t {
			continue
		}
		from, to := g.gid[s], g.gid[t]
		if g.directed.HasEdgeFromTo(from, to) {
			continue
		}
		g.edges = append(g.edges, [2]int{s, t})
		g.directed.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
		if !g.undirected.HasEdgeBetween(from, to) {
			g.undirected.SetEdge(simple.Edge{F: simple.Node(from), T: simple.Node(to)})
		}
	}
	return g
}

func (g *egoGraph) size() int {
	return len(g.nodes)
}

func (g *egoGraph) inDegree(i int) int {
	return g.directed.To(g.gid[i]).Len()
}

func (g *egoGraph) outDegree(i int) int {
	return g.directed.From(g.gid[i]).Len()
}

func (g *egoGraph) neighbors(i int) int {
	return g.undirected.From(g.gid[i]).Len()
}

// clustering is the local clustering coefficient of node i on the undirected view.
func (g *egoGraph) clustering(i int) float64 {
	nb := graph.NodesOf(g.undirected.From(g.gid[i]))
	k := len(nb)
	if k < 2 {
		return 0
	}
	links := 0
	for a := 0; a < k; a++ {
		for b := a + 1; b < k; b++ {
			if g.undirected.HasEdgeBetween(nb[a].ID(), nb[b].ID()) {
				links++
			}
		}
	}
	return float64(2*links) / float64(k*(k-1))
}

// betweenness is the normalized betweenness centrality of node i on the
// undirected view. gonum sums over ordered source and target pairs.
func (g *egoGraph) betweenness(i int) float64 {
	n := g.size()
	if n < 3 {
		return 0
	}
	return network.Betweenness(g.undirected)[g.gid[i]] / float64((n-1)*(n-2))
}

// modularity is the Louvain modularity of the undirected view.
func (g *egoGraph) modularity() float64 {
	if g.undirected.Edges().Len() == 0 {
		return 0
	}
	reduced := community.Modularize(g.undirected, 1, rand.NewPCG(louvainSeed, louvainSeed))
	q := community.Q(g.undirected, reduced.Communities(), 1)
	if math.IsNaN(q) {
		return 0
	}
	return q
}
