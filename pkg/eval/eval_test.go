package eval_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-reql/pkg/datum"
	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/eval"
	"github.com/adfharrison1/go-reql/pkg/proto"
	"github.com/adfharrison1/go-reql/pkg/rql"
	"github.com/adfharrison1/go-reql/pkg/storage"
)

type builder interface {
	Build() (*proto.Term, error)
}

func newEvaluator(t *testing.T) *eval.Evaluator {
	t.Helper()
	engine, err := storage.NewStorageEngine(storage.WithIndexCompiler(eval.CompileIndex))
	require.NoError(t, err)
	return eval.New(engine)
}

func runQuery(t *testing.T, ev *eval.Evaluator, q builder) (eval.Result, error) {
	t.Helper()
	node, err := q.Build()
	require.NoError(t, err)
	return ev.Run(context.Background(), node, eval.RunOptions{})
}

func mustRun(t *testing.T, ev *eval.Evaluator, q builder) eval.Result {
	t.Helper()
	res, err := runQuery(t, ev, q)
	require.NoError(t, err)
	return res
}

func writeResult(t *testing.T, res eval.Result) domain.WriteResult {
	t.Helper()
	w, err := domain.WriteResultFromDatum(res.Value)
	require.NoError(t, err)
	return w
}

func num(n float64) datum.Datum { return datum.Number(n) }

func seedUsers(t *testing.T, ev *eval.Evaluator) {
	t.Helper()
	mustRun(t, ev, rql.TableCreate("users"))
	res := mustRun(t, ev, rql.Table("users").Insert([]map[string]interface{}{
		{"id": 1, "name": "alice", "team": "red", "age": 31},
		{"id": 2, "name": "bob", "team": "blue", "age": 25},
		{"id": 3, "name": "carol", "team": "red", "age": 25},
		{"id": 4, "name": "dave", "age": 40},
	}))
	require.Equal(t, 4, writeResult(t, res).Inserted)
}

func TestRun_Arithmetic(t *testing.T) {
	ev := newEvaluator(t)

	res := mustRun(t, ev, rql.Value(1).Add(2).Mul(3).Term())
	assert.False(t, res.IsSeq)
	assert.True(t, datum.Equal(num(9), res.Value))

	res = mustRun(t, ev, rql.Value("ab").Add("cd").Term())
	assert.Equal(t, "abcd", res.Value.Native())

	_, err := runQuery(t, ev, rql.Value(10).Div(0).Term())
	assert.ErrorIs(t, err, domain.ErrDivisionByZero)

	_, err = runQuery(t, ev, rql.Value(1).Add("x").Term())
	assert.ErrorIs(t, err, domain.ErrTypeMismatch)
}

func TestRun_UnknownTermIsCompileError(t *testing.T) {
	ev := newEvaluator(t)
	_, err := ev.Run(context.Background(), &proto.Term{Type: proto.TermType(9999)}, eval.RunOptions{})
	assert.ErrorIs(t, err, domain.ErrCompile)
}

func TestRun_InsertConflict(t *testing.T) {
	ev := newEvaluator(t)
	seedUsers(t, ev)

	res := mustRun(t, ev, rql.Table("users").Insert([]map[string]interface{}{
		{"id": 4, "name": "again"},
		{"id": 5, "name": "erin"},
		{"id": 6, "name": "frank"},
	}))
	w := writeResult(t, res)
	assert.Equal(t, 2, w.Inserted)
	assert.Equal(t, 1, w.Errors)
	assert.Contains(t, w.FirstError, "duplicate primary key")

	res = mustRun(t, ev, rql.Table("users").Insert(map[string]interface{}{"id": 4, "age": 41},
		rql.InsertOpts{Conflict: domain.ConflictUpdate, ReturnChanges: true}))
	w = writeResult(t, res)
	assert.Equal(t, 1, w.Replaced)
	require.Len(t, w.Changes, 1)
	name, _ := w.Changes[0].NewVal.Get("name")
	assert.Equal(t, "dave", name.Native())
}

func TestRun_InsertGeneratesKeys(t *testing.T) {
	ev := newEvaluator(t)
	mustRun(t, ev, rql.TableCreate("notes"))

	res := mustRun(t, ev, rql.Table("notes").Insert(map[string]interface{}{"text": "hi"}))
	w := writeResult(t, res)
	require.Len(t, w.GeneratedKeys, 1)

	got := mustRun(t, ev, rql.Table("notes").Get(w.GeneratedKeys[0]).Field("text").Term())
	assert.Equal(t, "hi", got.Value.Native())
}

func TestRun_GetMissingIsNull(t *testing.T) {
	ev := newEvaluator(t)
	seedUsers(t, ev)

	res := mustRun(t, ev, rql.Table("users").Get(99).Term())
	assert.True(t, res.Value.IsNull())
}

func TestRun_FilterForms(t *testing.T) {
	ev := newEvaluator(t)
	seedUsers(t, ev)

	tests := []struct {
		name string
		seq  rql.Seq
		want int
	}{
		{"object subset", rql.Table("users").Filter(map[string]interface{}{"team": "red"}), 2},
		{"row expression", rql.Table("users").Filter(rql.Row.Field("age").Gt(30)), 2},
		{"function", rql.Table("users").Filter(func(u rql.Expr) rql.Expr { return u.Field("name").Eq("bob") }), 1},
		{"missing field skipped", rql.Table("users").Filter(rql.Row.Field("team").Eq("red")), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustRun(t, ev, tt.seq.Term())
			assert.True(t, res.IsSeq)
			assert.Len(t, res.Stream, tt.want)
		})
	}
}

func TestRun_OrderByIsStable(t *testing.T) {
	ev := newEvaluator(t)
	seedUsers(t, ev)

	res := mustRun(t, ev, rql.Table("users").OrderBy("age").Field("name").Term())
	names := make([]interface{}, len(res.Stream))
	for i, d := range res.Stream {
		names[i] = d.Native()
	}
	assert.Equal(t, []interface{}{"bob", "carol", "alice", "dave"}, names)

	res = mustRun(t, ev, rql.Table("users").OrderBy(rql.Desc("age")).Limit(1).Field("name").Term())
	require.Len(t, res.Stream, 1)
	assert.Equal(t, "dave", res.Stream[0].Native())
}

func TestRun_Reduce(t *testing.T) {
	ev := newEvaluator(t)
	add := func(a, b rql.Expr) rql.Expr { return a.Add(b) }

	res := mustRun(t, ev, rql.Array(1, 2, 3).Reduce(add).Term())
	assert.True(t, datum.Equal(num(6), res.Value))

	_, err := runQuery(t, ev, rql.Array().Reduce(add).Term())
	assert.ErrorIs(t, err, domain.ErrEmptyReduce)

	res = mustRun(t, ev, rql.Array().Reduce(add, 10).Term())
	assert.True(t, datum.Equal(num(10), res.Value))
}

func TestRun_Aggregations(t *testing.T) {
	ev := newEvaluator(t)
	seedUsers(t, ev)
	users := rql.Table("users")

	assert.True(t, datum.Equal(num(4), mustRun(t, ev, users.Count().Term()).Value))
	assert.True(t, datum.Equal(num(121), mustRun(t, ev, users.Sum("age").Term()).Value))
	assert.True(t, datum.Equal(num(2), mustRun(t, ev, users.Count(rql.Row.Field("age").Eq(25)).Term()).Value))

	oldest := mustRun(t, ev, users.Max("age").Term()).Value
	name, _ := oldest.Get("name")
	assert.Equal(t, "dave", name.Native())

	youngest := mustRun(t, ev, users.Min("age").Term()).Value
	name, _ = youngest.Get("name")
	assert.Equal(t, "bob", name.Native(), "first of equal items wins")

	assert.True(t, datum.Equal(num(0), mustRun(t, ev, rql.Array().Sum().Term()).Value))
	_, err := runQuery(t, ev, rql.Array().Avg().Term())
	assert.ErrorIs(t, err, domain.ErrEmptyReduce)
	_, err = runQuery(t, ev, rql.Array().Max().Term())
	assert.ErrorIs(t, err, domain.ErrEmptyReduce)
}

func TestRun_GroupCount(t *testing.T) {
	ev := newEvaluator(t)
	seedUsers(t, ev)

	res := mustRun(t, ev, rql.Table("users").Group("team").Count().Term())
	want := datum.MustFrom([]map[string]interface{}{
		{"group": "blue", "reduction": 1},
		{"group": nil, "reduction": 1},
		{"group": "red", "reduction": 2},
	})
	// Null sorts after booleans and before numbers and strings.
	want = datum.NewArray(want.Items()[1], want.Items()[0], want.Items()[2])
	assert.True(t, datum.Equal(want, res.Value), "got %s", res.Value)

	res = mustRun(t, ev, rql.Table("users").Group("team").Count().Ungroup().Term())
	assert.True(t, res.IsSeq)
	assert.Len(t, res.Stream, 3)
}

func TestRun_GroupedMapReduce(t *testing.T) {
	ev := newEvaluator(t)
	seedUsers(t, ev)

	res := mustRun(t, ev, rql.Table("users").HasFields("team").GroupedMapReduce(
		"team",
		rql.Row.Field("age"),
		func(a, b rql.Expr) rql.Expr { return a.Add(b) },
	).Term())
	want := datum.MustFrom([]map[string]interface{}{
		{"group": "blue", "reduction": 25},
		{"group": "red", "reduction": 56},
	})
	assert.True(t, datum.Equal(want, res.Value), "got %s", res.Value)
}

func TestRun_Joins(t *testing.T) {
	ev := newEvaluator(t)
	seedUsers(t, ev)
	mustRun(t, ev, rql.TableCreate("teams"))
	mustRun(t, ev, rql.Table("teams").Insert([]map[string]interface{}{
		{"id": "red", "lead": 1},
	}))

	res := mustRun(t, ev, rql.Table("users").EqJoin("team", rql.Table("teams")).Zip().Term())
	assert.Len(t, res.Stream, 2)
	for _, d := range res.Stream {
		lead, ok := d.Get("lead")
		require.True(t, ok)
		assert.True(t, datum.Equal(num(1), lead))
	}

	_, err := runQuery(t, ev, rql.Table("users").EqJoin("team", rql.Table("teams"), rql.EqJoinOpts{Index: "nope"}).Term())
	assert.ErrorIs(t, err, domain.ErrIndexNotFound)

	res = mustRun(t, ev, rql.Table("users").OuterJoin(rql.Table("teams"), func(u, tm rql.Expr) rql.Expr {
		return u.Field("team").Default(nil).Eq(tm.Field("id"))
	}).Term())
	require.Len(t, res.Stream, 4)
	unmatched := 0
	for _, d := range res.Stream {
		if right, _ := d.Get("right"); right.IsNull() {
			unmatched++
		}
	}
	assert.Equal(t, 2, unmatched)
}

func TestRun_DefaultCatchesMissingField(t *testing.T) {
	ev := newEvaluator(t)
	seedUsers(t, ev)

	_, err := runQuery(t, ev, rql.Table("users").Get(4).Field("team").Term())
	assert.ErrorIs(t, err, domain.ErrMissingField)

	res := mustRun(t, ev, rql.Table("users").Get(4).Field("team").Default("none").Term())
	assert.Equal(t, "none", res.Value.Native())
}

func TestRun_UpdateAndDelete(t *testing.T) {
	ev := newEvaluator(t)
	seedUsers(t, ev)
	users := rql.Table("users")

	res := mustRun(t, ev, users.Filter(map[string]interface{}{"team": "red"}).Update(map[string]interface{}{"team": "green"}))
	w := writeResult(t, res)
	assert.Equal(t, 2, w.Replaced)

	res = mustRun(t, ev, users.Get(2).Update(map[string]interface{}{"team": "blue"}))
	assert.Equal(t, 1, writeResult(t, res).Unchanged)

	res = mustRun(t, ev, users.Get(42).Update(map[string]interface{}{"team": "blue"}))
	assert.Equal(t, 1, writeResult(t, res).Skipped)

	res = mustRun(t, ev, users.Get(1).Update(map[string]interface{}{"id": 100}))
	w = writeResult(t, res)
	assert.Equal(t, 1, w.Errors)
	assert.Contains(t, w.FirstError, "cannot be changed")

	_, err := runQuery(t, ev, users.Get(1).Update(map[string]interface{}{"n": users.Count()}))
	assert.ErrorIs(t, err, domain.ErrQuery)
	assert.Contains(t, err.Error(), "non_atomic")

	res = mustRun(t, ev, users.Get(1).Update(map[string]interface{}{"n": users.Count()}, rql.UpdateOpts{NonAtomic: true}))
	assert.Equal(t, 1, writeResult(t, res).Replaced)

	res = mustRun(t, ev, users.Filter(map[string]interface{}{"team": "green"}).Delete())
	assert.Equal(t, 2, writeResult(t, res).Deleted)
	assert.True(t, datum.Equal(num(2), mustRun(t, ev, users.Count().Term()).Value))
}

func TestRun_ReplaceInsertsAndDeletes(t *testing.T) {
	ev := newEvaluator(t)
	seedUsers(t, ev)
	users := rql.Table("users")

	res := mustRun(t, ev, users.Get(9).Replace(map[string]interface{}{"id": 9, "name": "ivan"}))
	assert.Equal(t, 1, writeResult(t, res).Inserted)

	res = mustRun(t, ev, users.Get(9).Replace(nil))
	assert.Equal(t, 1, writeResult(t, res).Deleted)
}

func TestRun_SecondaryIndexes(t *testing.T) {
	ev := newEvaluator(t)
	seedUsers(t, ev)
	users := rql.Table("users")

	mustRun(t, ev, users.IndexCreate("team"))
	mustRun(t, ev, users.IndexCreate("decade", func(u rql.Expr) rql.Expr {
		return u.Field("age").Sub(u.Field("age").Mod(10))
	}))

	res := mustRun(t, ev, users.GetAllByIndex("team", "red").Term())
	assert.Len(t, res.Stream, 2)

	res = mustRun(t, ev, users.GetAllByIndex("decade", 20).Term())
	assert.Len(t, res.Stream, 2)

	res = mustRun(t, ev, users.Between(20, 40, rql.Index{Name: "decade"}).Term())
	assert.Len(t, res.Stream, 3)

	res = mustRun(t, ev, users.Between(2, 3, rql.Index{RightBound: rql.Closed}).Field("name").Term())
	require.Len(t, res.Stream, 2)
	assert.Equal(t, "bob", res.Stream[0].Native())

	list := mustRun(t, ev, users.IndexList())
	assert.True(t, datum.Equal(datum.MustFrom([]string{"decade", "team"}), list.Value))
}

func TestRun_AdminErrors(t *testing.T) {
	ev := newEvaluator(t)

	mustRun(t, ev, rql.DBCreate("app"))
	_, err := runQuery(t, ev, rql.DBCreate("app"))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	mustRun(t, ev, rql.DB("app").TableCreate("items", rql.TableCreateOpts{PrimaryKey: "sku"}))
	res := mustRun(t, ev, rql.DB("app").Table("items").Insert(map[string]interface{}{"sku": "a1"}))
	assert.Equal(t, 1, writeResult(t, res).Inserted)

	_, err = runQuery(t, ev, rql.Table("items").Term())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	res = mustRun(t, ev, rql.DBDrop("app"))
	assert.True(t, datum.Equal(datum.MustFrom(domain.DropResult{Dropped: 1}), res.Value))
}

func TestRun_RunOptionsSelectDatabase(t *testing.T) {
	ev := newEvaluator(t)
	mustRun(t, ev, rql.DBCreate("other"))
	mustRun(t, ev, rql.DB("other").TableCreate("t"))

	node, err := rql.Table("t").Count().Term().Build()
	require.NoError(t, err)
	res, err := ev.Run(context.Background(), node, eval.RunOptions{DB: "other"})
	require.NoError(t, err)
	assert.True(t, datum.Equal(num(0), res.Value))
}

func TestRun_CancelledContext(t *testing.T) {
	ev := newEvaluator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	node, err := rql.Value(1).Term().Build()
	require.NoError(t, err)
	_, err = ev.Run(ctx, node, eval.RunOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func natives(res eval.Result) []interface{} {
	items := res.Stream
	if !res.IsSeq {
		items = res.Value.Items()
	}
	out := make([]interface{}, 0, len(items))
	for _, d := range items {
		out = append(out, d.Native())
	}
	return out
}

func floats(ns ...float64) []interface{} {
	out := make([]interface{}, len(ns))
	for i, n := range ns {
		out[i] = n
	}
	return out
}

func TestRun_SequenceTransforms(t *testing.T) {
	ev := newEvaluator(t)
	five := rql.Array(0, 1, 2, 3, 4)
	empty := rql.Array()
	one := rql.Array(7)

	tests := []struct {
		name string
		q    rql.Seq
		want []interface{}
	}{
		{"skip", five.Skip(2), floats(2, 3, 4)},
		{"skip past end", five.Skip(10), floats()},
		{"skip empty", empty.Skip(1), floats()},
		{"limit", five.Limit(2), floats(0, 1)},
		{"limit zero", five.Limit(0), floats()},
		{"limit past end", one.Limit(3), floats(7)},
		{"slice", five.Slice(1, 3), floats(1, 2)},
		{"slice open end", five.Slice(3), floats(3, 4)},
		{"slice negative start", five.Slice(-2), floats(3, 4)},
		{"slice negative end", five.Slice(0, -3), floats(0, 1)},
		{"slice clamps", five.Slice(-10, 2), floats(0, 1)},
		{"slice reversed", five.Slice(3, 1), floats()},
		{"slice past end", five.Slice(10), floats()},
		{"slice empty", empty.Slice(0, 1), floats()},
		{"distinct keeps first occurrences", rql.Array(2, 1, 2, 3, 1).Distinct(), floats(2, 1, 3)},
		{"distinct empty", empty.Distinct(), floats()},
		{"distinct single", one.Distinct(), floats(7)},
		{"union", one.Union(empty, rql.Array(1, 2)), floats(7, 1, 2)},
		{"union of empties", empty.Union(empty), floats()},
		{"concat map", rql.Array(1, 2).ConcatMap(func(x rql.Expr) interface{} {
			return []interface{}{x, x.Mul(10)}
		}), floats(1, 10, 2, 20)},
		{"concat map empty", empty.ConcatMap(func(x rql.Expr) interface{} {
			return []interface{}{x}
		}), floats()},
		{"indexes of value", rql.Array(1, 2, 1).IndexesOf(1), floats(0, 2)},
		{"indexes of predicate", five.IndexesOf(func(x rql.Expr) rql.Expr { return x.Gt(2) }), floats(3, 4)},
		{"indexes of nothing", five.IndexesOf(9), floats()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustRun(t, ev, tt.q.Term())
			assert.Equal(t, tt.want, natives(res))
		})
	}
}

func TestRun_SequenceTransformErrors(t *testing.T) {
	ev := newEvaluator(t)
	five := rql.Array(0, 1, 2, 3, 4)

	tests := []struct {
		name string
		q    rql.Termer
		want error
	}{
		{"negative skip", five.Skip(-1), domain.ErrOpFailed},
		{"negative limit", five.Limit(-1), domain.ErrOpFailed},
		{"negative sample", five.Sample(-1), domain.ErrOpFailed},
		{"nth past end", five.Nth(5), domain.ErrNotFound},
		{"nth before start", five.Nth(-6), domain.ErrNotFound},
		{"nth of empty", rql.Array().Nth(0), domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runQuery(t, ev, tt.q.Term())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRun_Nth(t *testing.T) {
	ev := newEvaluator(t)
	five := rql.Array(0, 1, 2, 3, 4)

	assert.True(t, datum.Equal(num(0), mustRun(t, ev, five.Nth(0).Term()).Value))
	assert.True(t, datum.Equal(num(4), mustRun(t, ev, five.Nth(-1).Term()).Value))
	assert.True(t, datum.Equal(num(0), mustRun(t, ev, five.Nth(-5).Term()).Value))
	assert.True(t, datum.Equal(num(7), mustRun(t, ev, rql.Array(7).Nth(0).Term()).Value))
}

func TestRun_Sample(t *testing.T) {
	ev := newEvaluator(t)
	five := rql.Array(0, 1, 2, 3, 4)

	got := natives(mustRun(t, ev, five.Sample(3).Term()))
	require.Len(t, got, 3)
	seen := map[interface{}]bool{}
	for _, v := range got {
		assert.Contains(t, floats(0, 1, 2, 3, 4), v)
		assert.False(t, seen[v], "sampled %v twice", v)
		seen[v] = true
	}

	assert.ElementsMatch(t, floats(0, 1, 2, 3, 4), natives(mustRun(t, ev, five.Sample(10).Term())))
	assert.Empty(t, natives(mustRun(t, ev, five.Sample(0).Term())))
	assert.Empty(t, natives(mustRun(t, ev, rql.Array().Sample(2).Term())))
}

func TestRun_WithFields(t *testing.T) {
	ev := newEvaluator(t)
	seedUsers(t, ev)

	res := mustRun(t, ev, rql.Table("users").WithFields("name", "team").Term())
	assert.Equal(t, []interface{}{
		map[string]interface{}{"name": "alice", "team": "red"},
		map[string]interface{}{"name": "bob", "team": "blue"},
		map[string]interface{}{"name": "carol", "team": "red"},
	}, natives(res))

	res = mustRun(t, ev, rql.Array(map[string]interface{}{"a": 1, "b": 2}).WithFields("a").Term())
	assert.Equal(t, []interface{}{map[string]interface{}{"a": float64(1)}}, natives(res))

	res = mustRun(t, ev, rql.Table("users").WithFields("missing").Term())
	assert.Empty(t, natives(res))
}

func TestRun_Predicates(t *testing.T) {
	ev := newEvaluator(t)
	seedUsers(t, ev)

	tests := []struct {
		name string
		q    rql.Expr
		want bool
	}{
		{"contains value", rql.Array(1, 2, 3).Contains(2), true},
		{"contains all values", rql.Array(1, 2, 3).Contains(1, 3), true},
		{"contains missing value", rql.Array(1, 2, 3).Contains(1, 9), false},
		{"contains on empty", rql.Array().Contains(1), false},
		{"contains predicate", rql.Table("users").Contains(func(u rql.Expr) rql.Expr {
			return u.Field("age").Gt(35)
		}), true},
		{"is empty", rql.Array().IsEmpty(), true},
		{"single is not empty", rql.Array(0).IsEmpty(), false},
		{"filtered table is empty", rql.Table("users").Filter(map[string]interface{}{"team": "green"}).IsEmpty(), true},
		{"branch on true", rql.Branch(true, true, false), true},
		{"branch on null", rql.Branch(nil, true, false), false},
		{"branch on zero", rql.Branch(0, true, false), true},
		{"branch on expression", rql.Branch(rql.Table("users").Count().Gt(3), true, false), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustRun(t, ev, tt.q.Term())
			assert.True(t, datum.Equal(datum.Bool(tt.want), res.Value), "got %s", res.Value)
		})
	}
}
