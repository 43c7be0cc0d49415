package domain

// HeadRef is the name of the distinguished HEAD pointer in a repo state.
const HeadRef = "HEAD"

// RefState is the resolved value of one ref.
type RefState struct {
	CommitHash string
	UpdatedAt  int64
	UpdatedBy  string
	EventID    string
}

// RepoState maps ref names to their resolved commit plus the HEAD pointer.
// It is a projection recomputed from events on demand.
type RepoState struct {
	Refs map[string]RefState
	// Head is the symbolic target of HEAD, e.g. "refs/heads/main".
	Head          string
	HeadUpdatedAt int64
	HeadUpdatedBy string
}

// HeadCommit resolves HEAD through Refs. Returns empty string when unknown.
func (s RepoState) HeadCommit() string {
	if s.Head == "" {
		return ""
	}
	return s.Refs[s.Head].CommitHash
}

// Patch hashtags marking a patch set root and a revision root. They are
// structure, not labels.
const (
	HashtagRoot         = "root"
	HashtagRootRevision = "root-revision"
)

// IsPatchMarker reports whether a "t" value is a patch structure marker.
func IsPatchMarker(v string) bool {
	return v == HashtagRoot || v == HashtagRootRevision
}

// PatchNode is one node of the patch DAG.
type PatchNode struct {
	Event      Event
	ParentIDs  []string
	ChildIDs   []string
	IsRoot     bool
	IsRevision bool
}

// IsOrphan is true for nodes with no parent edge that are not tagged as roots.
func (n PatchNode) IsOrphan() bool {
	return len(n.ParentIDs) == 0 && !n.IsRoot
}

// Thread is a root event plus the comments scoped directly to it.
type Thread struct {
	Root     Event
	Comments []Event
}

// StatusKind is the resolved state of an issue or patch.
type StatusKind string

// Status kinds.
const (
	StatusDraft   StatusKind = "draft"
	StatusOpen    StatusKind = "open"
	StatusApplied StatusKind = "applied"
	StatusClosed  StatusKind = "closed"
)

// Rank orders status kinds draft < open < applied < closed. It is only a
// tie-break for events sharing a timestamp.
func (s StatusKind) Rank() int {
	switch s {
	case StatusDraft:
		return 0
	case StatusOpen:
		return 1
	case StatusApplied:
		return 2
	case StatusClosed:
		return 3
	default:
		return -1
	}
}

// StatusFromKind maps a status event kind to its StatusKind.
func StatusFromKind(k Kind) (StatusKind, bool) {
	switch k {
	case KindStatusOpen:
		return StatusOpen, true
	case KindStatusApplied:
		return StatusApplied, true
	case KindStatusClosed:
		return StatusClosed, true
	case KindStatusDraft:
		return StatusDraft, true
	default:
		return "", false
	}
}

// Kind returns the event kind that publishes this status.
func (s StatusKind) Kind() Kind {
	switch s {
	case StatusApplied:
		return KindStatusApplied
	case StatusClosed:
		return KindStatusClosed
	case StatusDraft:
		return KindStatusDraft
	default:
		return KindStatusOpen
	}
}

// StatusRecord is the highest-precedence status for a subject.
type StatusRecord struct {
	SubjectID string
	Status    StatusKind
	// Event is nil when the status is the implicit default.
	Event    *Event
	Implicit bool
}

// Label is a namespaced label value.
type Label struct {
	Namespace string
	Value     string
}

// String renders the label as "namespace/value".
func (l Label) String() string {
	return l.Namespace + "/" + l.Value
}

// EffectiveLabelSet is the deduplicated set of labels on a subject,
// sorted by their string form.
type EffectiveLabelSet struct {
	SubjectID string
	Labels    []Label
}

// Strings returns the labels rendered as "namespace/value".
func (s EffectiveLabelSet) Strings() []string {
	out := make([]string, len(s.Labels))
	for i, l := range s.Labels {
		out[i] = l.String()
	}
	return out
}

// Has reports whether the set contains namespace/value.
func (s EffectiveLabelSet) Has(namespace, value string) bool {
	for _, l := range s.Labels {
		if l.Namespace == namespace && l.Value == value {
			return true
		}
	}
	return false
}
