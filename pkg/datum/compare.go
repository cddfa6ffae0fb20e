package datum

import (
	"sort"
	"strconv"
	"strings"
)

// typeRank orders kinds the way the server sorts mixed values:
// arrays < booleans < null < numbers < objects < strings.
func typeRank(k Kind) int {
	switch k {
	case KindArray:
		return 0
	case KindBool:
		return 1
	case KindNull:
		return 2
	case KindNumber:
		return 3
	case KindObject:
		return 4
	case KindString:
		return 5
	default:
		return 6
	}
}

// Compare returns -1, 0 or 1. Values of different kinds compare by kind rank,
// arrays compare element-wise, objects compare as their key-sorted entries.
func Compare(a, b Datum) int {
	if a.kind != b.kind {
		return compareInt(typeRank(a.kind), typeRank(b.kind))
	}
	switch a.kind {
	case KindNull:
		return 0
	case KindBool:
		switch {
		case a.b == b.b:
			return 0
		case !a.b:
			return -1
		default:
			return 1
		}
	case KindNumber:
		switch {
		case a.n < b.n:
			return -1
		case a.n > b.n:
			return 1
		default:
			return 0
		}
	case KindString:
		return strings.Compare(a.s, b.s)
	case KindArray:
		for i := 0; i < len(a.arr) && i < len(b.arr); i++ {
			if c := Compare(a.arr[i], b.arr[i]); c != 0 {
				return c
			}
		}
		return compareInt(len(a.arr), len(b.arr))
	case KindObject:
		ak, bk := sortedKeys(a), sortedKeys(b)
		for i := 0; i < len(ak) && i < len(bk); i++ {
			if c := strings.Compare(ak[i], bk[i]); c != 0 {
				return c
			}
			if c := Compare(a.obj.vals[ak[i]], b.obj.vals[bk[i]]); c != 0 {
				return c
			}
		}
		return compareInt(len(ak), len(bk))
	}
	return 0
}

// Equal reports structural equality. Object key order is not significant.
func Equal(a, b Datum) bool {
	return Compare(a, b) == 0
}

// Key returns a canonical encoding of d: two datums have the same key exactly
// when they are structurally equal. It is used for grouping, distinct and
// index lookups.
func (d Datum) Key() string {
	var sb strings.Builder
	d.writeKey(&sb)
	return sb.String()
}

func (d Datum) writeKey(sb *strings.Builder) {
	switch d.kind {
	case KindNull:
		sb.WriteByte('z')
	case KindBool:
		if d.b {
			sb.WriteString("t")
		} else {
			sb.WriteString("f")
		}
	case KindNumber:
		sb.WriteByte('n')
		sb.WriteString(formatNumber(d.n))
		sb.WriteByte(';')
	case KindString:
		sb.WriteByte('s')
		sb.WriteString(strconv.Quote(d.s))
	case KindArray:
		sb.WriteByte('[')
		for _, item := range d.arr {
			item.writeKey(sb)
			sb.WriteByte(',')
		}
		sb.WriteByte(']')
	case KindObject:
		sb.WriteByte('{')
		for _, k := range sortedKeys(d) {
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			d.obj.vals[k].writeKey(sb)
			sb.WriteByte(',')
		}
		sb.WriteByte('}')
	}
}

func sortedKeys(d Datum) []string {
	keys := d.Keys()
	sort.Strings(keys)
	return keys
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
