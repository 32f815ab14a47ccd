package localfile

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/treehole/internal/backend"
)

func open(t *testing.T, root, params string) *backend.Instance {
	t.Helper()
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(Kind(root)))
	inst, err := reg.Open(backend.Record{ID: 1, Kind: Key, Params: []byte(params)})
	require.NoError(t, err)
	return inst
}

func TestAppendsLines(t *testing.T) {
	dir := t.TempDir()
	inst := open(t, dir, `{"file-name":"out.txt"}`)
	g := backend.NewGateway(0)
	ctx := context.Background()

	res := g.Publish(ctx, inst, "first", nil)
	require.Equal(t, backend.OutcomePublished, res.Outcome)
	assert.Equal(t, "0", res.Receipt)

	res = g.Publish(ctx, inst, "second\n", nil)
	require.Equal(t, backend.OutcomePublished, res.Outcome)
	assert.Equal(t, "6", res.Receipt)

	raw, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(raw))
}

func TestConcurrentAppendsDoNotInterleave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "abs.txt")
	a := open(t, dir, `{"file-name":"`+path+`"}`)
	b := open(t, "/elsewhere", `{"file-name":"`+path+`"}`)
	g := backend.NewGateway(0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		inst := a
		if i%2 == 1 {
			inst = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Publish(context.Background(), inst, "line", nil)
		}()
	}
	wg.Wait()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, raw, 20*len("line\n"))
}

func TestMissingDirectoryRejects(t *testing.T) {
	inst := open(t, t.TempDir(), `{"file-name":"no/such/dir/out.txt"}`)
	res := backend.NewGateway(0).Publish(context.Background(), inst, "x", nil)
	assert.Equal(t, backend.OutcomeRejected, res.Outcome)
}

func TestParamsValidated(t *testing.T) {
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(Kind("")))
	_, err := reg.Open(backend.Record{ID: 1, Kind: Key, Params: []byte(`{}`)})
	assert.Error(t, err)
}
