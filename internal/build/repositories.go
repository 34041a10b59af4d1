package build

// RunStore persists pipeline run records.
type RunStore interface {
	Save(record RunRecord) error
	Get(id string) (*RunRecord, error)

	// List returns all records, newest first.
	List() ([]RunRecord, error)
}
