// Package crawler builds bounded citation subgraphs by breadth-first search
// from a seed publication.
package crawler
