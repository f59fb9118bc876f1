package transport

import "fmt"

// Kind distinguishes a branch reference from a tag reference.
type Kind int

const (
	KindBranch Kind = iota
	KindTag
)

func (k Kind) String() string {
	switch k {
	case KindBranch:
		return "branch"
	case KindTag:
		return "tag"
	default:
		return "unknown"
	}
}

// Reference is a named pointer on a remote together with its current
// commit id. The zero value is not meaningful —
// references are only produced by ListReferences.
type Reference struct {
	Kind   Kind
	Name   string
	Commit string
}

// DisplayName returns a human-readable name for logs and diagnostics.
func (r Reference) DisplayName() string {
	return fmt.Sprintf("%s %s", r.Kind, r.Name)
}

// StateBytes returns the canonical state representation persisted by the
// store: the commit id, as raw bytes.
func (r Reference) StateBytes() []byte {
	return []byte(r.Commit)
}

// Coordinate returns the "{kind}:{name}@{commit}" coordinate key string
// used as the reference-id component of a store Coordinate.
func (r Reference) Coordinate() string {
	return fmt.Sprintf("%s:%s@%s", r.Kind, r.Name, r.Commit)
}

// IsBranch reports whether this reference should be tracked in the
// store's is_branch column.
func (r Reference) IsBranch() bool {
	return r.Kind == KindBranch
}
