// Package depgraph builds the two-kind dependency graph of a resource path.
//
// Build edges connect a resource to the inputs that affect its compiled
// bytes: the previous stage of its transformation chain and every input its
// compiler statically declared. Runtime edges connect a resource to
// references discovered in previously compiled output; they never affect
// cache validity. A cycle through Build edges is a configuration error; a
// cycle through Runtime edges is legal (mutually referencing entities).
package depgraph

import (
	"context"
	"errors"
	"fmt"

	graphlib "github.com/dominikbraun/graph"

	"github.com/forgekit/databuild/internal/builddb"
	"github.com/forgekit/databuild/internal/respath"
	"github.com/forgekit/databuild/internal/sourcectrl"
)

// ErrCyclicDependency is returned when the Build edges of a path form a
// cycle. Fatal; never retried.
var ErrCyclicDependency = errors.New("cyclic build dependency")

// EdgeKind labels a dependency edge.
type EdgeKind int

const (
	// Build edges affect correctness of a cached artifact and must be
	// hashed.
	Build EdgeKind = iota

	// Runtime edges are references discovered in compiled output,
	// irrelevant to cache validity.
	Runtime
)

func (k EdgeKind) String() string {
	if k == Build {
		return "build"
	}

	return "runtime"
}

// Edge is one dependency of the graph.
type Edge struct {
	From respath.ID
	To   respath.ID
	Kind EdgeKind
}

func pathHash(id respath.ID) string {
	return id.String()
}

// Graph is the dependency DAG of one resource path. Build edges are acyclic
// by construction; Runtime edges may close cycles.
type Graph struct {
	// all holds every vertex and edge, with the EdgeKind as edge data.
	all graphlib.Graph[string, respath.ID]

	// build mirrors only the Build edges and rejects cycles.
	build graphlib.Graph[string, respath.ID]
}

func newGraph() *Graph {
	return &Graph{
		all:   graphlib.New(pathHash, graphlib.Directed()),
		build: graphlib.New(pathHash, graphlib.Directed(), graphlib.PreventCycles()),
	}
}

func (g *Graph) addVertex(id respath.ID) error {
	for _, target := range []graphlib.Graph[string, respath.ID]{g.all, g.build} {
		if err := target.AddVertex(id); err != nil && !errors.Is(err, graphlib.ErrVertexAlreadyExists) {
			return err
		}
	}

	return nil
}

func (g *Graph) addEdge(from, to respath.ID, kind EdgeKind) error {
	if err := g.addVertex(from); err != nil {
		return err
	}

	if err := g.addVertex(to); err != nil {
		return err
	}

	if kind == Build {
		err := g.build.AddEdge(pathHash(from), pathHash(to))
		if errors.Is(err, graphlib.ErrEdgeCreatesCycle) {
			return fmt.Errorf("%w: %s -> %s", ErrCyclicDependency, from, to)
		}

		if err != nil && !errors.Is(err, graphlib.ErrEdgeAlreadyExists) {
			return err
		}
	}

	err := g.all.AddEdge(pathHash(from), pathHash(to), graphlib.EdgeData(kind))
	if err != nil && !errors.Is(err, graphlib.ErrEdgeAlreadyExists) {
		return err
	}

	return nil
}

// Vertices returns every path id in the graph.
func (g *Graph) Vertices() ([]respath.ID, error) {
	adjacency, err := g.all.AdjacencyMap()
	if err != nil {
		return nil, err
	}

	vertices := make([]respath.ID, 0, len(adjacency))
	for h := range adjacency {
		id, err := g.all.Vertex(h)
		if err != nil {
			return nil, err
		}

		vertices = append(vertices, id)
	}

	return vertices, nil
}

// Edges returns every dependency edge with its kind.
func (g *Graph) Edges() ([]Edge, error) {
	raw, err := g.all.Edges()
	if err != nil {
		return nil, err
	}

	edges := make([]Edge, 0, len(raw))

	for _, e := range raw {
		from, err := g.all.Vertex(e.Source)
		if err != nil {
			return nil, err
		}

		to, err := g.all.Vertex(e.Target)
		if err != nil {
			return nil, err
		}

		kind, _ := e.Properties.Data.(EdgeKind)
		edges = append(edges, Edge{From: from, To: to, Kind: kind})
	}

	return edges, nil
}

// BuildDependencies returns the direct Build-edge targets of id.
func (g *Graph) BuildDependencies(id respath.ID) ([]respath.ID, error) {
	adjacency, err := g.build.AdjacencyMap()
	if err != nil {
		return nil, err
	}

	var deps []respath.ID

	for target := range adjacency[pathHash(id)] {
		dep, err := g.build.Vertex(target)
		if err != nil {
			return nil, err
		}

		deps = append(deps, dep)
	}

	return deps, nil
}

// TopologicalOrder returns the Build-edge vertices leaves-first, in a
// deterministic order.
func (g *Graph) TopologicalOrder() ([]respath.ID, error) {
	sorted, err := graphlib.StableTopologicalSort(g.build, func(a, b string) bool { return a < b })
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCyclicDependency, err)
	}

	// StableTopologicalSort yields dependents before dependencies (edges
	// point from consumer to input); the build order is the reverse.
	order := make([]respath.ID, 0, len(sorted))

	for i := len(sorted) - 1; i >= 0; i-- {
		id, err := g.build.Vertex(sorted[i])
		if err != nil {
			return nil, err
		}

		order = append(order, id)
	}

	return order, nil
}

// FromPath builds the dependency graph rooted at id.
//
// The transformation chain and the declared dependencies of every reachable
// source resource contribute Build edges. Runtime references recorded in
// the build database by earlier compiles contribute Runtime edges without
// forcing a rebuild.
func FromPath(ctx context.Context, id respath.ID, db *builddb.DB, src sourcectrl.Reader) (*Graph, error) {
	g := newGraph()

	visited := make(map[string]bool)
	queue := []respath.ID{id}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current := queue[0]
		queue = queue[1:]

		if key := pathHash(current); visited[key] {
			continue
		} else {
			visited[key] = true
		}

		if err := g.addVertex(current); err != nil {
			return nil, err
		}

		// the previous chain stage is the canonical build dependency
		if dep, ok := current.PathDependency(); ok {
			if err := g.addEdge(current, dep, Build); err != nil {
				return nil, err
			}

			queue = append(queue, dep)
		}

		// declared inputs of a source resource
		if current.IsSource() {
			declared, err := src.Dependencies(ctx, current.SourceResource())
			if err != nil {
				return nil, fmt.Errorf("failed to resolve declared dependencies of %s: %w", current, err)
			}

			for _, dep := range declared {
				if err := g.addEdge(current, dep, Build); err != nil {
					return nil, err
				}

				queue = append(queue, dep)
			}
		}

		// runtime references known from earlier compiles
		if db != nil {
			references, err := db.References(current)
			if err != nil {
				return nil, err
			}

			for _, ref := range references {
				if err := g.addEdge(current, ref, Runtime); err != nil {
					return nil, err
				}

				queue = append(queue, ref)
			}
		}
	}

	return g, nil
}
