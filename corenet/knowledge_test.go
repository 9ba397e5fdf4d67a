package corenet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corechain/corenet/common"
)

func TestKnowledgeSetMarksAndEvicts(t *testing.T) {
	ks := NewKnowledgeSet(2)
	id1 := common.BytesToHash([]byte("a"))
	id2 := common.BytesToHash([]byte("b"))
	id3 := common.BytesToHash([]byte("c"))

	ks.MarkTransaction(id1)
	ks.MarkTransaction(id2)
	require.True(t, ks.KnowsTransaction(id1))
	require.True(t, ks.KnowsTransaction(id2))

	// Capacity 2: adding a third evicts the least-recently-used (id1, since
	// id2 was marked after it and neither was re-touched).
	ks.MarkTransaction(id3)
	require.False(t, ks.KnowsTransaction(id1))
	require.True(t, ks.KnowsTransaction(id2))
	require.True(t, ks.KnowsTransaction(id3))
}

func TestKnowledgeSetDefaultsOnNonPositiveSize(t *testing.T) {
	ks := NewKnowledgeSet(0)
	id := common.BytesToHash([]byte("x"))
	ks.MarkBlock(id)
	require.True(t, ks.KnowsBlock(id))
}
