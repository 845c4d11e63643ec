package multiresolution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ludgerpaehler/ALPACA/lib/topology"
)

func testAnalyzer() *Analyzer {
	return &Analyzer{
		MaxLevel: 2, ReferenceLevel: 0, ReferenceEpsilon: 0.01,
		Exponent: 1, CoarsenFactor: 0.125,
	}
}

// uniformDetails assigns one detail value to every leaf.
func uniformDetails(tr *topology.Tree, d float64) map[topology.ID]float64 {
	details := map[topology.ID]float64{}
	for _, id := range tr.Leaves() {
		details[id] = d
	}
	return details
}

func TestMarkTieBreakAtThreshold(t *testing.T) {
	tr, err := topology.New(1, 1, 1, 1.0, 2)
	require.NoError(t, err)
	a := testAnalyzer()
	root := topology.IDFromIndex(0, 0, 0, 0)

	// Exactly at the threshold keeps: only strictly-greater detail refines.
	marks := a.Mark(tr, uniformDetails(tr, a.Threshold(0)))
	assert.Equal(t, Keep, marks[root])

	marks = a.Mark(tr, uniformDetails(tr, a.Threshold(0)*1.0000001))
	assert.Equal(t, Refine, marks[root])
}

func TestMarkRespectsMaxLevelAndRoot(t *testing.T) {
	tr, err := topology.New(1, 1, 1, 1.0, 0)
	require.NoError(t, err)
	a := testAnalyzer()
	a.MaxLevel = 0
	root := topology.IDFromIndex(0, 0, 0, 0)

	// Huge detail cannot refine past the maximum level, and tiny detail
	// cannot coarsen a root.
	marks := a.Mark(tr, uniformDetails(tr, 100.0))
	assert.Equal(t, Keep, marks[root])

	marks = a.Mark(tr, uniformDetails(tr, 0.0))
	assert.Equal(t, Keep, marks[root])
}

func TestMarkMissingDetailFailsFast(t *testing.T) {
	tr, err := topology.New(1, 1, 1, 1.0, 1)
	require.NoError(t, err)
	require.Panics(t, func() {
		testAnalyzer().Mark(tr, map[topology.ID]float64{})
	})
}

func TestUnanimousSiblingsCoarsen(t *testing.T) {
	tr, err := topology.New(1, 1, 1, 1.0, 2)
	require.NoError(t, err)
	root := topology.IDFromIndex(0, 0, 0, 0)
	for _, c := range root.Children() {
		tr.Insert(c)
	}

	marks := testAnalyzer().Mark(tr, uniformDetails(tr, 0.0))
	for _, c := range root.Children() {
		assert.Equal(t, Coarsen, marks[c])
	}
}

func TestPartialSiblingGroupIsDemotedToKeep(t *testing.T) {
	tr, err := topology.New(1, 1, 1, 1.0, 2)
	require.NoError(t, err)
	a := testAnalyzer()
	root := topology.IDFromIndex(0, 0, 0, 0)
	for _, c := range root.Children() {
		tr.Insert(c)
	}

	// Seven children far below the coarsen band, one inside the keep band:
	// nobody may coarsen, because restriction needs the full octet.
	details := uniformDetails(tr, 0.0)
	details[root.Child(3)] = a.Threshold(1) * 0.5

	marks := a.Mark(tr, details)
	for _, c := range root.Children() {
		assert.Equal(t, Keep, marks[c], "child %v", c)
	}
}

func TestRelaxationEscalatesCoarseNeighbor(t *testing.T) {
	// Left root refined, right root not. High detail on the child touching
	// the shared face wants level 2 there; the level-0 right root would end
	// up two levels apart, so relaxation must escalate it to refine.
	tr, err := topology.New(2, 1, 1, 1.0, 2)
	require.NoError(t, err)
	a := testAnalyzer()
	left := topology.IDFromIndex(0, 0, 0, 0)
	right := topology.IDFromIndex(0, 1, 0, 0)
	for _, c := range left.Children() {
		tr.Insert(c)
	}

	details := uniformDetails(tr, 0.0)
	details[left.Child(1)] = 1.0 // the +x face child

	marks := a.Mark(tr, details)
	assert.Equal(t, Refine, marks[left.Child(1)])
	assert.Equal(t, Refine, marks[right],
		"the coarse neighbor must be escalated to hold 2:1 balance")

	// The escalation also breaks the left children's coarsen octet.
	for _, c := range left.Children() {
		assert.NotEqual(t, Coarsen, marks[c], "child %v", c)
	}
}

func TestRelaxationBlocksCoarseningNextToRefinement(t *testing.T) {
	// Two refined roots side by side. The left octet wants to coarsen, but
	// a right child on the shared face wants to refine to level 2: applying
	// both would put a level-0 leaf next to level-2 leaves. The relaxation
	// must strengthen the left children instead.
	tr, err := topology.New(2, 1, 1, 1.0, 2)
	require.NoError(t, err)
	a := testAnalyzer()
	left := topology.IDFromIndex(0, 0, 0, 0)
	right := topology.IDFromIndex(0, 1, 0, 0)
	for _, c := range left.Children() {
		tr.Insert(c)
	}
	for _, c := range right.Children() {
		tr.Insert(c)
	}

	details := uniformDetails(tr, 0.0)
	details[right.Child(0)] = 1.0 // -x face child of the right root

	marks := a.Mark(tr, details)
	assert.Equal(t, Refine, marks[right.Child(0)])
	for _, c := range left.Children() {
		assert.NotEqual(t, Coarsen, marks[c], "child %v", c)
	}

	// Keeping the left octet at level 1 is enough: the new level-2 leaves
	// then border level-1 leaves, a gap of exactly one.
	assert.Equal(t, Keep, marks[left.Child(1)])
}
