package category

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		line       string
		wantParent string
		wantName   string
		wantOK     bool
	}{
		{"Food:Groceries", "Food", "Groceries", true},
		{"  Food : Dining out ", "Food", "Dining out", true},
		{"Salary", "", "Salary", true},
		{"A:B:C", "A", "B:C", true},
		{"", "", "", false},
		{"# comment", "", "", false},
		{"Food:", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			parent, name, ok := ParsePath(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantParent, parent)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

func TestIndex_AddCreatesParent(t *testing.T) {
	idx := NewIndex()

	c, err := idx.Add("Food:Groceries")
	require.NoError(t, err)
	assert.Equal(t, "Food:Groceries", c.FullPath)
	assert.Equal(t, "Food", c.Parent)

	assert.True(t, idx.Exists("Food"))
	assert.Equal(t, 2, idx.Len())

	_, err = idx.Add("Food:Groceries")
	assert.ErrorIs(t, err, ErrExists)

	_, err = idx.Add("Food:Groceries:Organic")
	assert.ErrorIs(t, err, ErrTooDeep)
}

func TestIndex_AllSorted(t *testing.T) {
	idx := NewIndex()
	for _, p := range []string{"Transport:Train", "Food:Groceries", "Bills"} {
		_, err := idx.Add(p)
		require.NoError(t, err)
	}

	var paths []string
	for _, c := range idx.All() {
		paths = append(paths, c.FullPath)
	}
	assert.Equal(t, []string{"Bills", "Food", "Food:Groceries", "Transport", "Transport:Train"}, paths)
	assert.Len(t, idx.Children("Food"), 1)
}

func TestIndex_TouchAndFrequent(t *testing.T) {
	idx := NewIndex()
	for _, p := range []string{"A", "B", "C", "D"} {
		_, err := idx.Add(p)
		require.NoError(t, err)
	}

	touch := func(path string, n int) {
		for i := 0; i < n; i++ {
			require.NoError(t, idx.Touch(path))
		}
	}
	touch("C", 3)
	touch("B", 1)
	touch("A", 1)

	freq := idx.Frequent(2)
	require.Len(t, freq, 2)
	assert.Equal(t, "C", freq[0].FullPath)
	assert.Equal(t, uint64(3), freq[0].Usage)
	assert.Equal(t, "A", freq[1].FullPath)

	assert.Len(t, idx.Frequent(0), 3)
	assert.ErrorIs(t, idx.Touch("missing"), ErrNotFound)
}

func TestIndex_TouchConcurrent(t *testing.T) {
	idx := NewIndex()
	_, err := idx.Add("Food")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = idx.Touch("Food")
		}()
	}
	wg.Wait()

	c, _ := idx.Get("Food")
	assert.Equal(t, uint64(50), c.Usage)
}

func TestIndex_RenameParentCascades(t *testing.T) {
	idx := NewIndex()
	for _, p := range []string{"Food:Groceries", "Food:Dining"} {
		_, err := idx.Add(p)
		require.NoError(t, err)
	}

	moved, err := idx.Rename("Food", "", "Eating")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Food":           "Eating",
		"Food:Groceries": "Eating:Groceries",
		"Food:Dining":    "Eating:Dining",
	}, moved)

	assert.False(t, idx.Exists("Food:Groceries"))
	c, ok := idx.Get("Eating:Dining")
	require.True(t, ok)
	assert.Equal(t, "Eating", c.Parent)
}

func TestIndex_RenameReparent(t *testing.T) {
	idx := NewIndex()
	for _, p := range []string{"Food:Snacks", "Leisure"} {
		_, err := idx.Add(p)
		require.NoError(t, err)
	}

	moved, err := idx.Rename("Food:Snacks", "Leisure", "Snacks")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Food:Snacks": "Leisure:Snacks"}, moved)
	assert.Len(t, idx.Children("Leisure"), 1)

	_, err = idx.Rename("Food", "Leisure", "Food")
	require.NoError(t, err, "Food has no children left")

	_, err = idx.Rename("Leisure", "Other", "Leisure")
	assert.ErrorIs(t, err, ErrTooDeep)

	_, err = idx.Rename("Missing", "", "X")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = idx.Rename("Leisure:Snacks", "", "Leisure")
	assert.ErrorIs(t, err, ErrExists)
}

func TestIndex_RemoveRequiresReplacement(t *testing.T) {
	idx := NewIndex()
	for _, p := range []string{"Food:Groceries", "Food:Dining", "Misc"} {
		_, err := idx.Add(p)
		require.NoError(t, err)
	}

	_, err := idx.Remove("Food", "Nope")
	assert.ErrorIs(t, err, ErrInvalidReplacement)

	_, err = idx.Remove("Food", "Food:Dining")
	assert.ErrorIs(t, err, ErrInvalidReplacement)

	migrated, err := idx.Remove("Food", "Misc")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"Food":           "Misc",
		"Food:Groceries": "Misc",
		"Food:Dining":    "Misc",
	}, migrated)
	assert.Equal(t, 1, idx.Len())
}

func TestIndex_ImportLatin1(t *testing.T) {
	catalog := "# catalog\nFood:Groceries\nFood:Groceries\n\nBolig:L\xe5n\nSalary\n"

	idx := NewIndex()
	n, err := idx.Import(strings.NewReader(catalog))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.True(t, idx.Exists("Bolig:Lån"))
}

func TestIndex_ImportUTF8(t *testing.T) {
	idx := NewIndex()
	n, err := idx.Import(strings.NewReader("Bolig:Lån\nBolig:Varme\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = idx.Import(strings.NewReader("Bolig:Lån\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestIndex_ImportTooDeep(t *testing.T) {
	idx := NewIndex()
	_, err := idx.Import(strings.NewReader("A:B\nA:B:C\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooDeep))
}
