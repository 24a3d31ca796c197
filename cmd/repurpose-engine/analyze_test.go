// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/repurpose-engine/internal/llm"
	"github.com/pdiddy/repurpose-engine/internal/search"
	"github.com/pdiddy/repurpose-engine/internal/store"
	"github.com/pdiddy/repurpose-engine/pkg/types"
)

func TestNewDepsOwnsClientsPerRun(t *testing.T) {
	c := types.DefaultPipelineConfig()
	c.AI.APIKey = "test-key"
	c.Store.DataDir = t.TempDir()
	st, err := store.Open(c.Store)
	require.NoError(t, err)
	defer st.Close()

	a, err := newDeps(c, st, true)
	require.NoError(t, err)
	b, err := newDeps(c, st, true)
	require.NoError(t, err)

	assert.NotSame(t, a.Capability, b.Capability)
	require.NotEmpty(t, a.Backends)
	require.Len(t, b.Backends, len(a.Backends))
	for i := range a.Backends {
		assert.NotSame(t, a.Backends[i], b.Backends[i], "backend %s", a.Backends[i].Name())
	}

	fa, ok := a.FullText.(*search.FullTextFetcher)
	require.True(t, ok)
	fb, ok := b.FullText.(*search.FullTextFetcher)
	require.True(t, ok)
	assert.NotSame(t, fa.Client, fb.Client)

	assert.Same(t, a.Store, b.Store)
}

func TestNewDepsWithoutFullText(t *testing.T) {
	c := types.DefaultPipelineConfig()
	c.AI.APIKey = "test-key"
	d, err := newDeps(c, nil, false)
	require.NoError(t, err)
	assert.Nil(t, d.FullText)
}

func TestNewDepsRequiresKey(t *testing.T) {
	c := types.DefaultPipelineConfig()
	_, err := newDeps(c, nil, true)
	assert.ErrorIs(t, err, llm.ErrNoCapability)
}
