package indexing_test

import (
	"errors"
	"testing"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/indexing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(t *testing.T, pairs ...datum.Pair) datum.Datum {
	t.Helper()
	d, err := datum.From(pairs)
	require.NoError(t, err)
	return d
}

func keys(ds []datum.Datum) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		s, _ := d.AsString()
		out[i] = s
	}
	return out
}

func TestIndex_QueryByField(t *testing.T) {
	idx := indexing.NewIndex(indexing.Definition{Name: "role"}, indexing.FieldKey("role"))

	idx.Add(datum.String("alice"), doc(t, datum.Pair{Key: "role", Value: "admin"}))
	idx.Add(datum.String("bob"), doc(t, datum.Pair{Key: "role", Value: "user"}))
	idx.Add(datum.String("carol"), doc(t, datum.Pair{Key: "role", Value: "admin"}))
	idx.Add(datum.String("dave"), doc(t, datum.Pair{Key: "name", Value: "dave"}))

	assert.Equal(t, []string{"alice", "carol"}, keys(idx.Query(datum.String("admin"))))
	assert.Equal(t, []string{"bob"}, keys(idx.Query(datum.String("user"))))
	assert.Empty(t, idx.Query(datum.String("guest")))
	assert.Equal(t, 2, idx.Len())
}

func TestIndex_UpdateMovesKey(t *testing.T) {
	idx := indexing.NewIndex(indexing.Definition{Name: "age"}, indexing.FieldKey("age"))
	pk := datum.String("alice")
	before := doc(t, datum.Pair{Key: "age", Value: 25})
	after := doc(t, datum.Pair{Key: "age", Value: 26})

	idx.Update(pk, datum.Null(), before)
	assert.Equal(t, []string{"alice"}, keys(idx.Query(datum.Number(25))))

	idx.Update(pk, before, after)
	assert.Empty(t, idx.Query(datum.Number(25)))
	assert.Equal(t, []string{"alice"}, keys(idx.Query(datum.Number(26))))

	idx.Update(pk, after, datum.Null())
	assert.Empty(t, idx.Query(datum.Number(26)))
	assert.Equal(t, 0, idx.Len())
}

func TestIndex_RangeBounds(t *testing.T) {
	idx := indexing.NewIndex(indexing.Definition{Name: "n"}, indexing.FieldKey("n"))
	for i, name := range []string{"a", "b", "c", "d"} {
		idx.Add(datum.String(name), doc(t, datum.Pair{Key: "n", Value: i + 1}))
	}

	closedOpen := idx.Range(datum.Number(2), datum.Number(4), false, true)
	assert.Equal(t, []string{"b", "c"}, keys(closedOpen))

	closedClosed := idx.Range(datum.Number(2), datum.Number(4), false, false)
	assert.Equal(t, []string{"b", "c", "d"}, keys(closedClosed))

	openOpen := idx.Range(datum.Number(1), datum.Number(4), true, true)
	assert.Equal(t, []string{"b", "c"}, keys(openOpen))
}

func TestIndexEngine_CreateDropList(t *testing.T) {
	ie := indexing.NewIndexEngine()

	_, err := ie.CreateIndex("test.users", indexing.Definition{Name: "role"}, indexing.FieldKey("role"))
	require.NoError(t, err)
	_, err = ie.CreateIndex("test.users", indexing.Definition{Name: "age"}, indexing.FieldKey("age"))
	require.NoError(t, err)

	_, err = ie.CreateIndex("test.users", indexing.Definition{Name: "role"}, indexing.FieldKey("role"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists))

	assert.Equal(t, []string{"age", "role"}, ie.GetIndexes("test.users"))
	assert.Empty(t, ie.GetIndexes("test.other"))

	require.NoError(t, ie.DropIndex("test.users", "age"))
	err = ie.DropIndex("test.users", "age")
	assert.True(t, errors.Is(err, domain.ErrIndexNotFound))

	ie.DropTable("test.users")
	_, ok := ie.GetIndex("test.users", "role")
	assert.False(t, ok)
}

func TestIndexEngine_UpdateIndexForDocument(t *testing.T) {
	ie := indexing.NewIndexEngine()
	_, err := ie.CreateIndex("t", indexing.Definition{Name: "city"}, indexing.FieldKey("city"))
	require.NoError(t, err)

	pk := datum.String("x")
	ie.UpdateIndexForDocument("t", pk, datum.Null(), doc(t, datum.Pair{Key: "city", Value: "Oslo"}))

	idx, ok := ie.GetIndex("t", "city")
	require.True(t, ok)
	assert.Equal(t, []string{"x"}, keys(idx.Query(datum.String("Oslo"))))
}

func TestCompileField(t *testing.T) {
	extract, err := indexing.CompileField(indexing.Definition{Name: "email"})
	require.NoError(t, err)

	v, ok := extract(doc(t, datum.Pair{Key: "email", Value: "a@b.c"}))
	require.True(t, ok)
	s, _ := v.AsString()
	assert.Equal(t, "a@b.c", s)

	_, ok = extract(doc(t, datum.Pair{Key: "email", Value: nil}))
	assert.False(t, ok)
}
