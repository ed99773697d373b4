package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectionToggleAtCapacity(t *testing.T) {
	var sel Selection
	sel.Open(selectionData(MaxSelections, 1))
	n, err := sel.SelectAllFromSource("s0")
	require.NoError(t, err)
	require.Equal(t, MaxSelections, n)

	_, err = sel.Toggle("s1-q0")
	require.ErrorIs(t, err, ErrSelectionCapacityExceeded)
	require.Equal(t, MaxSelections, sel.Count())
	require.False(t, sel.IsSelected("s1-q0"))

	// Removing still works at the cap.
	selected, err := sel.Toggle("s0-q0")
	require.NoError(t, err)
	require.False(t, selected)
	require.Equal(t, MaxSelections-1, sel.Count())
}

func TestSelectionToggleUnknownQuestion(t *testing.T) {
	var sel Selection
	sel.Open(selectionData(2))
	_, err := sel.Toggle("ghost")
	require.ErrorIs(t, err, ErrUnknownQuestion)
	require.Zero(t, sel.Count())
}

func TestSelectAllFromSourceFillsToCap(t *testing.T) {
	var sel Selection
	sel.Open(selectionData(25, 10))
	_, err := sel.SelectAllFromSource("s0")
	require.NoError(t, err)

	n, err := sel.SelectAllFromSource("s1")
	require.NoError(t, err)
	require.Equal(t, 5, n)
	for i := 0; i < 5; i++ {
		require.True(t, sel.IsSelected(fmt.Sprintf("s1-q%d", i)), "question %d in source order", i)
	}
	require.False(t, sel.IsSelected("s1-q5"))

	n, err = sel.SelectAllFromSource("s1")
	require.ErrorIs(t, err, ErrSelectionCapacityExceeded)
	require.Zero(t, n)
}

func TestSelectAllAlreadySelectedIsNotCapacityError(t *testing.T) {
	var sel Selection
	sel.Open(selectionData(MaxSelections))
	_, err := sel.SelectAllFromSource("s0")
	require.NoError(t, err)

	n, err := sel.SelectAllFromSource("s0")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDeselectAllFromSource(t *testing.T) {
	var sel Selection
	sel.Open(selectionData(3, 3))
	_, _ = sel.SelectAllFromSource("s0")
	_, _ = sel.Toggle("s1-q1")

	n, err := sel.DeselectAllFromSource("s0")
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []string{"s1-q1"}, sel.Selected())

	_, err = sel.DeselectAllFromSource("nope")
	require.True(t, errors.Is(err, ErrUnknownSource))
}

func TestSelectionPendingRequiresSelection(t *testing.T) {
	var sel Selection
	sel.Open(selectionData(2))
	_, err := sel.Pending()
	require.ErrorIs(t, err, ErrEmptySelectionSubmit)
}

func TestSelectionRebrowseKeepsSurvivingPicks(t *testing.T) {
	var sel Selection
	sel.Open(selectionData(3))
	require.Equal(t, ModeInitial, sel.Mode())
	_, _ = sel.Toggle("s0-q0")
	_, _ = sel.Toggle("s0-q2")

	sel.Rebrowse()
	require.True(t, sel.Visible())
	require.Equal(t, ModeRebrowse, sel.Mode())

	// The new data only has two questions in s0, so s0-q2 disappears.
	sel.Open(selectionData(2, 4))
	require.Equal(t, ModeRebrowse, sel.Mode())
	require.Equal(t, []string{"s0-q0"}, sel.Selected())
}

func TestSelectionResetHides(t *testing.T) {
	var sel Selection
	sel.Open(selectionData(2))
	_, _ = sel.Toggle("s0-q1")
	sel.Reset()
	require.False(t, sel.Visible())
	require.Zero(t, sel.Count())
	require.Nil(t, sel.Data())

	sel.Open(selectionData(1))
	require.Equal(t, ModeInitial, sel.Mode())
}
