package entity

// EntityState is the lifecycle state of an entity
type EntityState int

const (
	Detached EntityState = iota
	Unchanged
	Added
	Modified
	Deleted
)

var stateNames = map[EntityState]string{
	Detached:  "Detached",
	Unchanged: "Unchanged",
	Added:     "Added",
	Modified:  "Modified",
	Deleted:   "Deleted",
}

func (s EntityState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

func (s EntityState) IsDetached() bool  { return s == Detached }
func (s EntityState) IsUnchanged() bool { return s == Unchanged }
func (s EntityState) IsAdded() bool     { return s == Added }
func (s EntityState) IsModified() bool  { return s == Modified }
func (s EntityState) IsDeleted() bool   { return s == Deleted }

// IsChanged reports whether the entity has changes waiting to be saved
func (s EntityState) IsChanged() bool {
	return s == Added || s == Modified || s == Deleted
}

// MergeStrategy decides what happens when queried data meets a cached entity
type MergeStrategy int

const (
	// PreserveChanges keeps cached entities that have pending changes
	PreserveChanges MergeStrategy = iota
	// OverwriteChanges replaces cached values and marks the entity Unchanged
	OverwriteChanges
)

func (m MergeStrategy) String() string {
	if m == OverwriteChanges {
		return "OverwriteChanges"
	}
	return "PreserveChanges"
}
