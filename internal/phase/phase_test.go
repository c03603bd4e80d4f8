package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditline/internal/domain"
)

func TestRegistryOrder(t *testing.T) {
	all := All()
	require.Len(t, all, 5)
	want := []ID{Planning, Execution, Findings, Reporting, Followup}
	for i, info := range all {
		assert.Equal(t, want[i], info.ID)
		assert.Equal(t, i, info.Ordinal)
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	_, err := Parse("closing")
	require.ErrorIs(t, err, ErrUnknownPhase)

	id, err := Parse("followup")
	require.NoError(t, err)
	assert.Equal(t, Followup, id)
}

func TestLookupAndByOrdinal(t *testing.T) {
	info, err := Lookup(Reporting)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Ordinal)

	byOrd, err := ByOrdinal(3)
	require.NoError(t, err)
	assert.Equal(t, Reporting, byOrd.ID)

	_, err = ByOrdinal(5)
	assert.ErrorIs(t, err, ErrUnknownPhase)
	_, err = Lookup(ID("wrapup"))
	assert.ErrorIs(t, err, ErrUnknownPhase)
}

func TestCompletenessAccessors(t *testing.T) {
	var e domain.Engagement
	for i, id := range []ID{Planning, Execution, Findings, Reporting, Followup} {
		require.NoError(t, SetCompleteness(&e, id, (i+1)*10))
	}
	for i, id := range []ID{Planning, Execution, Findings, Reporting, Followup} {
		got, err := Completeness(e, id)
		require.NoError(t, err)
		assert.Equal(t, (i+1)*10, got)
	}
	_, err := Completeness(e, ID("nope"))
	assert.ErrorIs(t, err, ErrUnknownPhase)
	assert.ErrorIs(t, SetCompleteness(&e, ID("nope"), 1), ErrUnknownPhase)
}
