package ragplugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/plugin"
)

type fakeBackend struct {
	docs []plugin.RAGDocument
	err  error
}

func (f *fakeBackend) Documents(context.Context, string) ([]plugin.RAGDocument, error) {
	return f.docs, f.err
}

func TestSearchRanksByTermOverlap(t *testing.T) {
	backend := &fakeBackend{docs: []plugin.RAGDocument{
		{ID: "1", Content: "refund policy for digital goods"},
		{ID: "2", Content: "shipping times for physical goods"},
		{ID: "3", Content: "how to request a refund"},
	}}
	p, err := NewProvider(backend)
	require.NoError(t, err)

	results, err := p.Search(context.Background(), "refund goods", 2, "docs")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].ID, "doc 1 matches both query terms")
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchExcludesZeroScoreDocuments(t *testing.T) {
	backend := &fakeBackend{docs: []plugin.RAGDocument{{ID: "1", Content: "completely unrelated text"}}}
	p, err := NewProvider(backend)
	require.NoError(t, err)

	results, err := p.Search(context.Background(), "refund", 5, "docs")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchRequiresQuery(t *testing.T) {
	p, err := NewProvider(&fakeBackend{})
	require.NoError(t, err)
	_, err = p.Search(context.Background(), "", 5, "docs")
	require.Error(t, err)
}

func TestNewProviderRequiresBackend(t *testing.T) {
	_, err := NewProvider(nil)
	require.Error(t, err)
}
