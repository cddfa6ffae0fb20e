package domain

// CreateResult is returned by database, table and index creation.
type CreateResult struct {
	Created int `json:"created"`
}

// DropResult is returned by database, table and index removal.
type DropResult struct {
	Dropped int `json:"dropped"`
}

// Conflict policies for inserts.
const (
	ConflictError   = "error"
	ConflictReplace = "replace"
	ConflictUpdate  = "update"
)

// Durability levels for writes and tables.
const (
	DurabilityHard = "hard"
	DurabilitySoft = "soft"
)
