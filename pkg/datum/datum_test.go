package datum

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type address struct {
	City string `json:"city"`
	Zip  string `json:"zip,omitempty"`
}

type Base struct {
	ID string `json:"id"`
}

type user struct {
	Base
	Name     string   `json:"name"`
	Age      int      `json:"age"`
	Password string   `json:"-"`
	Tags     []string `json:"tags,omitempty"`
	Address  *address `json:"address"`
	internal int
}

func TestFrom_Primitives(t *testing.T) {
	cases := []struct {
		in   interface{}
		kind Kind
	}{
		{nil, KindNull},
		{true, KindBool},
		{3, KindNumber},
		{int8(-2), KindNumber},
		{uint32(7), KindNumber},
		{float32(1.5), KindNumber},
		{"x", KindString},
		{[]int{1, 2}, KindArray},
		{[2]string{"a", "b"}, KindArray},
		{map[string]int{"a": 1}, KindObject},
	}
	for _, c := range cases {
		d, err := From(c.in)
		require.NoError(t, err, "input %#v", c.in)
		assert.Equal(t, c.kind, d.Kind(), "input %#v", c.in)
	}
}

func TestFrom_SpecialTypes(t *testing.T) {
	d, err := From([]byte("hi"))
	require.NoError(t, err)
	s, _ := d.AsString()
	assert.Equal(t, "aGk=", s)

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	d, err = From(ts)
	require.NoError(t, err)
	s, _ = d.AsString()
	assert.Equal(t, "2024-01-02T03:04:05Z", s)

	var nilMap map[string]int
	d, err = From(nilMap)
	require.NoError(t, err)
	assert.True(t, d.IsNull())
}

func TestFrom_Struct(t *testing.T) {
	u := user{
		Base:     Base{ID: "u1"},
		Name:     "ada",
		Age:      36,
		Password: "secret",
		Address:  &address{City: "London"},
		internal: 1,
	}
	d, err := From(u)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "age", "address"}, d.Keys())
	addr, ok := d.Get("address")
	require.True(t, ok)
	assert.Equal(t, []string{"city"}, addr.Keys())
	assert.False(t, d.Has("Password"))

	var back user
	require.NoError(t, d.Decode(&back))
	assert.Equal(t, "ada", back.Name)
	assert.Equal(t, 36, back.Age)
	assert.Equal(t, "London", back.Address.City)
}

func TestFrom_PairsKeepOrder(t *testing.T) {
	d, err := From([]Pair{{"b", 1}, {"a", 2}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, d.Keys())
	assert.Equal(t, `{"b":1,"a":2}`, d.String())
}

func TestFrom_DuplicateKeys(t *testing.T) {
	_, err := From([]Pair{{"a", 1}, {"a", 2}})
	assert.True(t, errors.Is(err, ErrMalformedValue))

	_, err = From(map[interface{}]int{1: 1, "1": 2})
	assert.True(t, errors.Is(err, ErrMalformedValue))

	type clash struct {
		A string `json:"x"`
		B string `json:"x"`
	}
	_, err = From(clash{})
	assert.True(t, errors.Is(err, ErrMalformedValue))
}

func TestFrom_Unsupported(t *testing.T) {
	_, err := From(make(chan int))
	assert.True(t, errors.Is(err, ErrMalformedValue))

	_, err = From(map[string]interface{}{"f": func() {}})
	assert.True(t, errors.Is(err, ErrMalformedValue))

	_, err = From(complex(1, 2))
	assert.True(t, errors.Is(err, ErrMalformedValue))
}

func TestDatum_Immutable(t *testing.T) {
	items := []Datum{Number(1), Number(2)}
	arr := NewArray(items...)
	items[0] = Number(99)
	first, _ := arr.Index(0)
	assert.True(t, Equal(Number(1), first))

	got := arr.Items()
	got[1] = String("changed")
	second, _ := arr.Index(1)
	assert.True(t, Equal(Number(2), second))

	obj := MustObject(Field{Key: "a", Value: Number(1)})
	updated := obj.WithField("b", Number(2))
	assert.Equal(t, 1, obj.Len())
	assert.Equal(t, 2, updated.Len())

	appended := arr.Append(Number(3))
	assert.Equal(t, 2, arr.Len())
	assert.Equal(t, 3, appended.Len())
}

func TestDatum_MergeDeep(t *testing.T) {
	a := MustFrom([]Pair{{"name", "x"}, {"meta", []Pair{{"a", 1}, {"b", 2}}}})
	b := MustFrom([]Pair{{"meta", []Pair{{"b", 3}, {"c", 4}}}, {"extra", true}})

	m := a.Merge(b)
	assert.Equal(t, `{"name":"x","meta":{"a":1,"b":3,"c":4},"extra":true}`, m.String())
	assert.Equal(t, `{"name":"x","meta":{"a":1,"b":2}}`, a.String())
}

func TestDatum_Without(t *testing.T) {
	d := MustFrom([]Pair{{"a", 1}, {"b", 2}, {"c", 3}})
	assert.Equal(t, `{"b":2}`, d.Without("a", "c").String())
}

func TestDatum_Truthy(t *testing.T) {
	assert.False(t, Null().Truthy())
	assert.False(t, Bool(false).Truthy())
	assert.True(t, Bool(true).Truthy())
	assert.True(t, Number(0).Truthy())
	assert.True(t, String("").Truthy())
}

func TestCompare_KindOrder(t *testing.T) {
	ordered := []Datum{
		NewArray(),
		Bool(false),
		Bool(true),
		Null(),
		Number(-1),
		Number(3),
		EmptyObject(),
		String("a"),
		String("b"),
	}
	for i := 0; i < len(ordered)-1; i++ {
		assert.Equal(t, -1, Compare(ordered[i], ordered[i+1]), "index %d", i)
		assert.Equal(t, 1, Compare(ordered[i+1], ordered[i]), "index %d", i)
	}
}

func TestEqual_ObjectKeyOrderIgnored(t *testing.T) {
	a := MustFrom([]Pair{{"x", 1}, {"y", []int{1, 2}}})
	b := MustFrom([]Pair{{"y", []int{1, 2}}, {"x", 1}})
	assert.True(t, Equal(a, b))
	assert.Equal(t, a.Key(), b.Key())

	c := MustFrom([]Pair{{"x", 1}, {"y", []int{2, 1}}})
	assert.False(t, Equal(a, c))
	assert.NotEqual(t, a.Key(), c.Key())

	assert.NotEqual(t, String("1").Key(), Number(1).Key())
}

func TestMsgpack_PreservesOrderAndNumbers(t *testing.T) {
	d := MustFrom([]Pair{{"z", 1}, {"a", 2.5}, {"m", nil}, {"list", []interface{}{"s", true}}})
	raw, err := msgpack.Marshal(d)
	require.NoError(t, err)

	var back Datum
	require.NoError(t, msgpack.Unmarshal(raw, &back))
	assert.Equal(t, d.String(), back.String())
	assert.Equal(t, []string{"z", "a", "m", "list"}, back.Keys())
}

func TestDatum_MarshalJSON(t *testing.T) {
	d := MustFrom([]Pair{{"n", 1e21}, {"s", "q\"x"}, {"z", 0}})
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1e+21,"s":"q\"x","z":0}`, string(raw))
}

func TestDatum_Native(t *testing.T) {
	d := MustFrom([]Pair{{"a", []int{1}}, {"b", nil}})
	assert.Equal(t, map[string]interface{}{"a": []interface{}{1.0}, "b": nil}, d.Native())
}
