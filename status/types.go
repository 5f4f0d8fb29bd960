package status

import "time"

// FileState is the per-file indexing state reported by the brain service.
type FileState string

const (
	StateIndexed    FileState = "indexed"
	StateNotIndexed FileState = "not-indexed"
)

// Repository identifies a repository known to the brain service.
type Repository struct {
	ID            int64     `json:"github_id"`
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	DefaultBranch string    `json:"default_branch,omitempty"`
	Private       bool      `json:"private,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// FullName returns the canonical "owner/name" form.
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// Counters holds the aggregate indexing progress of one repository.
type Counters struct {
	Total   int `json:"total"`
	Indexed int `json:"indexed"`
}

// FileStatus is one file of a repository and its indexing state.
type FileStatus struct {
	Path  string    `json:"path"`
	State FileState `json:"status"`
}

// Entry is a point-in-time snapshot of everything the cache knows about
// one repository. Counters is nil until a summary, file list, or stream
// delta has been observed. TotalKnown reports whether Counters.Total came
// from the server rather than being a placeholder accumulated from deltas.
type Entry struct {
	Repo       Repository
	Counters   *Counters
	TotalKnown bool
	Files      []FileStatus
}

// IndexedCount returns how many of the given files are indexed.
func IndexedCount(files []FileStatus) int {
	n := 0
	for _, f := range files {
		if f.State == StateIndexed {
			n++
		}
	}
	return n
}
