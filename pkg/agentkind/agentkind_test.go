package agentkind

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_FixedDependencyGraph(t *testing.T) {
	decls := Defaults()
	byKind := map[Kind]Declaration{}
	for _, d := range decls {
		byKind[d.Kind] = d
	}

	assert.Equal(t, []Kind{Discrepancy}, byKind[Risk].DependsOn)
	assert.Equal(t, []Kind{KeyFacts}, byKind[Summary].DependsOn)
	assert.Equal(t, []Kind{EntityExtraction}, byKind[Relationship].DependsOn)
	assert.Equal(t, []Kind{DocumentClassifier}, byKind[PrivilegeCheck].DependsOn)
}

func TestIndependentKinds(t *testing.T) {
	decls := Defaults()
	independent := IndependentKinds(decls)

	assert.Contains(t, independent, DocumentClassifier)
	assert.Contains(t, independent, Timeline)
	assert.NotContains(t, independent, Risk)
	assert.NotContains(t, independent, Summary)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	d, ok := r.Get(string(Risk))
	require.True(t, ok)
	assert.Equal(t, TierPro, d.Tier)

	_, ok = r.Get("nonexistent")
	assert.False(t, ok)
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := NewEmptyRegistry()
	require.NoError(t, r.Register(Declaration{Kind: Risk}))
	assert.Error(t, r.Register(Declaration{Kind: Risk}))
}
