package cmt

// Path caches the complete sibling path for the rightmost occupied leaf of the
// tree. It is what makes blind appends possible: the next append always lands
// at Index, and Proof already contains every sibling needed to recompute the
// root from there.
type Path struct {
	// Proof holds the sibling at every level, ordered from the leaf level
	// upward.
	Proof []Node
	// Leaf is the value of the most recently appended leaf.
	Leaf Node
	// Index is the leaf position the *next* append will occupy.
	Index uint32
}

func newPath(depth uint32) Path {
	return Path{Proof: make([]Node, depth)}
}
