// Package exposure estimates and applies per-image gains, so that
// overlapping photographs agree on brightness.
package exposure

import(
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph/simple"

	"github.com/abworrall/ringstitch/pkg/pano"
)

// A Correspondence is what two overlapping images saw of their shared
// region: how many pixels were sampled, and the mean intensity of each
// image over those pixels. MeanFrom belongs to the edge's source image.
type Correspondence struct {
	N        int
	MeanFrom float64
	MeanTo   float64
}

func (c Correspondence)String() string {
	return fmt.Sprintf("{n=%d, %.2f <-> %.2f}", c.N, c.MeanFrom, c.MeanTo)
}

func (c Correspondence)reversed() Correspondence {
	return Correspondence{N: c.N, MeanFrom: c.MeanTo, MeanTo: c.MeanFrom}
}

// merge combines two sets of samples, weighting the means by sample count.
func (c Correspondence)merge(o Correspondence) Correspondence {
	n := c.N + o.N
	if n == 0 {
		return c
	}
	return Correspondence{
		N:        n,
		MeanFrom: (c.MeanFrom*float64(c.N) + o.MeanFrom*float64(o.N)) / float64(n),
		MeanTo:   (c.MeanTo*float64(c.N) + o.MeanTo*float64(o.N)) / float64(n),
	}
}

type edgeKey struct{ from, to int64 }

// Graph is a directed graph over image IDs. Every observed overlap
// adds an edge each way, each carrying the correspondence seen from its
// source image. The edge payloads live in a side map, as gonum's simple
// edges carry no data.
type Graph struct {
	g     *simple.DirectedGraph
	edges map[edgeKey]Correspondence
}

func NewGraph() *Graph {
	return &Graph{
		g:     simple.NewDirectedGraph(),
		edges: map[edgeKey]Correspondence{},
	}
}

// AddImage registers an image, so that it gets a gain even if it never
// overlaps anything.
func (g *Graph)AddImage(id int) {
	if g.g.Node(int64(id)) == nil {
		g.g.AddNode(simple.Node(id))
	}
}

// Observe records that images a and b overlap, with c as seen from a.
// Repeated observations of the same pair are aggregated.
func (g *Graph)Observe(a, b int, c Correspondence) error {
	if a == b {
		return pano.Invariantf("exposure graph self-edge on image %d", a)
	}
	if c.N <= 0 {
		return nil
	}
	g.AddImage(a)
	g.AddImage(b)

	g.set(int64(a), int64(b), c)
	g.set(int64(b), int64(a), c.reversed())
	return nil
}

func (g *Graph)set(from, to int64, c Correspondence) {
	k := edgeKey{from, to}
	if prev, exists := g.edges[k]; exists {
		c = prev.merge(c)
	} else {
		g.g.SetEdge(g.g.NewEdge(g.g.Node(from), g.g.Node(to)))
	}
	g.edges[k] = c
}

// Correspondence returns the samples on the a->b edge.
func (g *Graph)Correspondence(a, b int) (Correspondence, bool) {
	c, ok := g.edges[edgeKey{int64(a), int64(b)}]
	return c, ok
}

// IDs returns every image in the graph, sorted.
func (g *Graph)IDs() []int {
	ids := []int{}
	nodes := g.g.Nodes()
	for nodes.Next() {
		ids = append(ids, int(nodes.Node().ID()))
	}
	sort.Ints(ids)
	return ids
}

// Neighbours returns the images that `id` overlaps, sorted.
func (g *Graph)Neighbours(id int) []int {
	ids := []int{}
	if g.g.Node(int64(id)) == nil {
		return ids
	}
	nodes := g.g.From(int64(id))
	for nodes.Next() {
		ids = append(ids, int(nodes.Node().ID()))
	}
	sort.Ints(ids)
	return ids
}
