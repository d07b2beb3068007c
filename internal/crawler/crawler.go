package crawler

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/citenet/internal/citation"
	"github.com/JakeFAU/citenet/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrEmptySeed is returned when a seed carries no usable DOI.
var ErrEmptySeed = errors.New("seed has no doi")

// Crawler expands seeds into subgraphs using a citation.Fetcher.
type Crawler struct {
	fetcher citation.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Crawler.
func New(fetcher citation.Fetcher, cfg Config, logger *zap.Logger) (*Crawler, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{fetcher: fetcher, cfg: cfg, logger: logger}, nil
}

type fetchResult struct {
	node  citation.Node
	edges []citation.Edge
	err   error
}

// Crawl runs a level-synchronous BFS from seed. Nodes are admitted in
// frontier order so the result is independent of fetch completion order.
// Only errors matching citation.ErrFatal or context cancellation are returned;
// other per-node failures become stub nodes.
func (c *Crawler) Crawl(ctx context.Context, seed citation.Seed) (*citation.Subgraph, error) {
	rootID := citation.NormalizeDOI(seed.DOI)
	if rootID == "" {
		return nil, ErrEmptySeed
	}
	logger := c.logger.With(zap.String("seed", rootID))

	sg := &citation.Subgraph{
		Seed:     rootID,
		Status:   citation.StatusExhausted,
		MaxDepth: c.cfg.MaxDepth,
		MaxNodes: c.cfg.MaxNodes,
	}
	visited := map[string]struct{}{rootID: {}}
	admitted := make(map[string]struct{})
	var candidates []citation.Edge

	level := []string{rootID}
	for depth := 0; len(level) > 0; depth++ {
		var next []string
		// Pruned nodes free their slot, so a level is fetched in batches
		// sized to the room left until the cap is actually filled.
		for pos := 0; pos < len(level); {
			remaining := c.cfg.MaxNodes - len(sg.Nodes)
			if remaining <= 0 {
				logger.Debug("Node cap reached",
					zap.Int("depth", depth),
					zap.Int("unfetched", len(level)-pos),
				)
				sg.Status = citation.StatusTruncated
				break
			}
			batch := level[pos:min(pos+remaining, len(level))]
			pos += len(batch)

			results, err := c.fetchLevel(ctx, batch)
			if err != nil {
				return nil, fmt.Errorf("crawl %s at depth %d: %w", rootID, depth, err)
			}
			for i, id := range batch {
				res := results[i]
				if res.err != nil {
					if depth == 0 {
						sg.Status = rootFailureStatus(res.err)
					}
					logger.Warn("Node unavailable; recording stub",
						zap.String("node", id),
						zap.Int("depth", depth),
						zap.Error(res.err),
					)
					metrics.ObserveNode("stub")
					sg.Nodes = append(sg.Nodes, citation.Node{ID: id, Depth: depth, Stub: true})
					admitted[id] = struct{}{}
					continue
				}

				node := res.node
				node.ID = id
				node.Depth = depth
				if depth > 0 && seed.CutoffYear > 0 && node.Year > seed.CutoffYear {
					metrics.ObserveNode("pruned")
					continue
				}
				metrics.ObserveNode("fetched")
				sg.Nodes = append(sg.Nodes, node)
				admitted[id] = struct{}{}

				for _, e := range res.edges {
					neighbor := otherEnd(e, id)
					if neighbor == "" || neighbor == id {
						continue
					}
					candidates = append(candidates, e)
					if depth+1 > c.cfg.MaxDepth {
						continue
					}
					if _, seen := visited[neighbor]; seen {
						continue
					}
					visited[neighbor] = struct{}{}
					next = append(next, neighbor)
				}
			}
		}
		if sg.Status == citation.StatusTruncated {
			break
		}
		level = next
	}

	sg.Edges = inducedEdges(candidates, admitted)
	sg.Authors, sg.AuthorEdges = collectAuthors(sg.Nodes)
	for _, n := range sg.Nodes {
		if n.Depth > sg.DepthReached {
			sg.DepthReached = n.Depth
		}
	}
	logger.Debug("Subgraph complete",
		zap.String("status", string(sg.Status)),
		zap.Int("nodes", len(sg.Nodes)),
		zap.Int("edges", len(sg.Edges)),
		zap.Int("depth_reached", sg.DepthReached),
	)
	return sg, nil
}

// fetchLevel fetches ids concurrently and returns results in input order.
func (c *Crawler) fetchLevel(ctx context.Context, ids []string) ([]fetchResult, error) {
	results := make([]fetchResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			node, edges, err := c.fetcher.FetchNode(gctx, id)
			if err != nil {
				if errors.Is(err, citation.ErrFatal) {
					return err
				}
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
			}
			results[i] = fetchResult{node: node, edges: edges, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func rootFailureStatus(err error) citation.Status {
	if errors.Is(err, citation.ErrNotFound) {
		return citation.StatusNotFound
	}
	return citation.StatusUnavailable
}

func otherEnd(e citation.Edge, id string) string {
	switch id {
	case e.Source:
		return e.Target
	case e.Target:
		return e.Source
	default:
		return ""
	}
}

// inducedEdges keeps edges whose endpoints were both admitted, in first-seen order.
func inducedEdges(candidates []citation.Edge, admitted map[string]struct{}) []citation.Edge {
	seen := make(map[citation.Edge]struct{}, len(candidates))
	edges := make([]citation.Edge, 0, len(candidates))
	for _, e := range candidates {
		if _, ok := admitted[e.Source]; !ok {
			continue
		}
		if _, ok := admitted[e.Target]; !ok {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		edges = append(edges, e)
	}
	return edges
}

// collectAuthors lists the authors credited on nodes, in node order, with one
// author edge per distinct author and work.
func collectAuthors(nodes []citation.Node) ([]citation.Author, []citation.AuthorEdge) {
	var authors []citation.Author
	var edges []citation.AuthorEdge
	index := make(map[string]int)
	linked := make(map[citation.AuthorEdge]struct{})
	for _, n := range nodes {
		for _, credit := range n.Authorships {
			i, known := index[credit.AuthorID]
			if !known {
				i = len(authors)
				index[credit.AuthorID] = i
				authors = append(authors, citation.Author{
					ID:    credit.AuthorID,
					Name:  credit.Name,
					Topic: n.Field,
				})
			}
			a := &authors[i]
			if a.Institution == "" && len(credit.Institutions) > 0 {
				a.Institution = credit.Institutions[0]
			}
			if a.Country == "" {
				a.Country = credit.Country
			}
			if a.Topic == "" {
				a.Topic = n.Field
			}
			edge := citation.AuthorEdge{Author: credit.AuthorID, Work: n.ID}
			if _, dup := linked[edge]; dup {
				continue
			}
			linked[edge] = struct{}{}
			edges = append(edges, edge)
		}
	}
	return authors, edges
}
