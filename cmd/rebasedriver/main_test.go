package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wsgraph/graph"
	"wsgraph/internal/graphtest"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestReadGraph_BothFormats(t *testing.T) {
	b := graphtest.New(t)
	b.Child(b.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "web")
	b.Recalc()

	compressed, err := b.Graph.Encode()
	require.NoError(t, err)
	plain, err := b.Graph.Marshal()
	require.NoError(t, err)

	for name, data := range map[string][]byte{"graph.zst": compressed, "graph.json": plain} {
		g, err := readGraph(writeFile(t, name, data))
		require.NoError(t, err, name)
		assert.Equal(t, b.Graph.RootHash(), g.RootHash(), name)
	}

	_, err = readGraph(writeFile(t, "bad", []byte("nope")))
	assert.Error(t, err)
}

func TestInferClock(t *testing.T) {
	base := graphtest.New(t)
	comp := base.Child(base.Root(), graph.EdgeKindUse, graph.ContentKindComponent, "web")
	left, right := base.Fork(), base.Fork()
	left.SetContent(comp, "left")
	right.SetContent(comp, "right")
	right.SetContent(comp, "right again")

	id, err := inferClock(left.Graph, right.Graph)
	require.NoError(t, err)
	assert.Equal(t, left.ClockID, id)

	id, err = inferClock(right.Graph, left.Graph)
	require.NoError(t, err)
	assert.Equal(t, right.ClockID, id)

	_, err = inferClock(base.Graph, base.Graph)
	assert.Error(t, err)
}
