package obstacle

// Graph is the legal transition relation of one obstacle kind.
type Graph[S comparable] struct {
	edges map[S]map[S]struct{}
}

// Edge is a legal from → to transition.
type Edge[S comparable] struct {
	From, To S
}

func NewGraph[S comparable](edges ...Edge[S]) Graph[S] {
	g := Graph[S]{edges: make(map[S]map[S]struct{})}
	for _, e := range edges {
		if g.edges[e.From] == nil {
			g.edges[e.From] = make(map[S]struct{})
		}
		g.edges[e.From][e.To] = struct{}{}
	}
	return g
}

// Legal reports whether to is a direct successor of from.
func (g Graph[S]) Legal(from, to S) bool {
	_, ok := g.edges[from][to]
	return ok
}

// Apply returns next if the transition is legal and cur otherwise. It is
// pure: re-requesting the current state or an unreachable one is a no-op.
func (g Graph[S]) Apply(cur, next S) S {
	if g.Legal(cur, next) {
		return next
	}
	return cur
}

// Replay folds events over cur with Apply.
func (g Graph[S]) Replay(cur S, events ...S) S {
	for _, e := range events {
		cur = g.Apply(cur, e)
	}
	return cur
}

var (
	GlassGraph = NewGraph(
		Edge[GlassStatus]{GlassIntact, GlassBroken},
	)
	FallGraph = NewGraph(
		Edge[FallStatus]{FallStable, FallWarning},
		Edge[FallStatus]{FallWarning, FallFalling},
		Edge[FallStatus]{FallFalling, FallStable},
	)
)
