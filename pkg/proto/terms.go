package proto

import "fmt"

// TermType tags every node of a query tree.
type TermType int32

const (
	TermDatum        TermType = 1
	TermMakeArray    TermType = 2
	TermMakeObj      TermType = 3
	TermVar          TermType = 10
	TermImplicitVar  TermType = 13
	TermDB           TermType = 14
	TermTable        TermType = 15
	TermGet          TermType = 16
	TermEq           TermType = 17
	TermNe           TermType = 18
	TermLt           TermType = 19
	TermLe           TermType = 20
	TermGt           TermType = 21
	TermGe           TermType = 22
	TermNot          TermType = 23
	TermAdd          TermType = 24
	TermSub          TermType = 25
	TermMul          TermType = 26
	TermDiv          TermType = 27
	TermMod          TermType = 28
	TermAppend       TermType = 29
	TermSlice        TermType = 30
	TermHasFields    TermType = 32
	TermPluck        TermType = 33
	TermWithout      TermType = 34
	TermMerge        TermType = 35
	TermReduce       TermType = 37
	TermMap          TermType = 38
	TermFilter       TermType = 39
	TermConcatMap    TermType = 40
	TermOrderBy      TermType = 41
	TermDistinct     TermType = 42
	TermCount        TermType = 43
	TermUnion        TermType = 44
	TermNth          TermType = 45
	TermGroupedMR    TermType = 46
	TermInnerJoin    TermType = 48
	TermOuterJoin    TermType = 49
	TermEqJoin       TermType = 50
	TermUpdate       TermType = 53
	TermDelete       TermType = 54
	TermReplace      TermType = 55
	TermInsert       TermType = 56
	TermDBCreate     TermType = 57
	TermDBDrop       TermType = 58
	TermDBList       TermType = 59
	TermTableCreate  TermType = 60
	TermTableDrop    TermType = 61
	TermTableList    TermType = 62
	TermBranch       TermType = 65
	TermOr           TermType = 66
	TermAnd          TermType = 67
	TermFunc         TermType = 69
	TermSkip         TermType = 70
	TermLimit        TermType = 71
	TermZip          TermType = 72
	TermAsc          TermType = 73
	TermDesc         TermType = 74
	TermIndexCreate  TermType = 75
	TermIndexDrop    TermType = 76
	TermIndexList    TermType = 77
	TermGetAll       TermType = 78
	TermSample       TermType = 81
	TermIsEmpty      TermType = 86
	TermIndexesOf    TermType = 87
	TermDefault      TermType = 92
	TermContains     TermType = 93
	TermWithFields   TermType = 96
	TermGroup        TermType = 144
	TermSum          TermType = 145
	TermAvg          TermType = 146
	TermMin          TermType = 147
	TermMax          TermType = 148
	TermUngroup      TermType = 150
	TermBracket      TermType = 170
	TermBetween      TermType = 182
)

var termNames = map[TermType]string{
	TermDatum:       "datum",
	TermMakeArray:   "array",
	TermMakeObj:     "object",
	TermVar:         "var",
	TermImplicitVar: "row",
	TermDB:          "db",
	TermTable:       "table",
	TermGet:         "get",
	TermEq:          "eq",
	TermNe:          "ne",
	TermLt:          "lt",
	TermLe:          "le",
	TermGt:          "gt",
	TermGe:          "ge",
	TermNot:         "not",
	TermAdd:         "add",
	TermSub:         "sub",
	TermMul:         "mul",
	TermDiv:         "div",
	TermMod:         "mod",
	TermAppend:      "append",
	TermSlice:       "slice",
	TermHasFields:   "hasFields",
	TermPluck:       "pluck",
	TermWithout:     "without",
	TermMerge:       "merge",
	TermReduce:      "reduce",
	TermMap:         "map",
	TermFilter:      "filter",
	TermConcatMap:   "concatMap",
	TermOrderBy:     "orderBy",
	TermDistinct:    "distinct",
	TermCount:       "count",
	TermUnion:       "union",
	TermNth:         "nth",
	TermGroupedMR:   "groupedMapReduce",
	TermInnerJoin:   "innerJoin",
	TermOuterJoin:   "outerJoin",
	TermEqJoin:      "eqJoin",
	TermUpdate:      "update",
	TermDelete:      "delete",
	TermReplace:     "replace",
	TermInsert:      "insert",
	TermDBCreate:    "dbCreate",
	TermDBDrop:      "dbDrop",
	TermDBList:      "dbList",
	TermTableCreate: "tableCreate",
	TermTableDrop:   "tableDrop",
	TermTableList:   "tableList",
	TermBranch:      "branch",
	TermOr:          "or",
	TermAnd:         "and",
	TermFunc:        "func",
	TermSkip:        "skip",
	TermLimit:       "limit",
	TermZip:         "zip",
	TermAsc:         "asc",
	TermDesc:        "desc",
	TermIndexCreate: "indexCreate",
	TermIndexDrop:   "indexDrop",
	TermIndexList:   "indexList",
	TermGetAll:      "getAll",
	TermSample:      "sample",
	TermIsEmpty:     "isEmpty",
	TermIndexesOf:   "indexesOf",
	TermDefault:     "default",
	TermContains:    "contains",
	TermWithFields:  "withFields",
	TermGroup:       "group",
	TermSum:         "sum",
	TermAvg:         "avg",
	TermMin:         "min",
	TermMax:         "max",
	TermUngroup:     "ungroup",
	TermBracket:     "field",
	TermBetween:     "between",
}

// String returns the builder method name of the term.
func (t TermType) String() string {
	if name, ok := termNames[t]; ok {
		return name
	}
	return fmt.Sprintf("term(%d)", int32(t))
}

// Known reports whether t is a term kind this protocol defines.
func (t TermType) Known() bool {
	_, ok := termNames[t]
	return ok
}
