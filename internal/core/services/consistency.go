package services

import (
	"slices"
	"strings"

	"github.com/custodia-labs/forgebridge/internal/core/domain"
)

// ConsistencyResolver reduces an arbitrarily ordered event set into
// projections: repository state, patch graph, threads, status and labels.
// Every method is a pure function of its inputs.
type ConsistencyResolver struct{}

// NewConsistencyResolver creates a new consistency resolver.
func NewConsistencyResolver() *ConsistencyResolver {
	return &ConsistencyResolver{}
}

// newer reports whether a should replace b: later creation time wins, and
// the greater id breaks exact ties.
func newer(aAt int64, aID string, bAt int64, bID string) bool {
	if aAt != bAt {
		return aAt > bAt
	}
	return aID > bID
}

// MergeRepoState resolves refs and HEAD from state events. Events from keys
// auth does not allow are discarded before any comparison. Each ref and
// HEAD are resolved independently.
func (c *ConsistencyResolver) MergeRepoState(events []domain.Event, auth domain.Authorization) domain.RepoState {
	state := domain.RepoState{Refs: make(map[string]domain.RefState)}
	var headID string

	for _, e := range events {
		if e.Kind != domain.KindRepoState || !auth.Allows(e.AuthorKey) {
			continue
		}
		for _, t := range e.Tags {
			name := t.Name()
			switch {
			case strings.HasPrefix(name, "refs/"):
				if t.Value() == "" {
					continue
				}
				cur, ok := state.Refs[name]
				if ok && !newer(e.CreatedAt, e.ID, cur.UpdatedAt, cur.EventID) {
					continue
				}
				state.Refs[name] = domain.RefState{
					CommitHash: t.Value(),
					UpdatedAt:  e.CreatedAt,
					UpdatedBy:  e.AuthorKey,
					EventID:    e.ID,
				}
			case name == domain.HeadRef:
				target := strings.TrimSpace(strings.TrimPrefix(t.Value(), "ref:"))
				if target == "" {
					continue
				}
				if state.Head != "" && !newer(e.CreatedAt, e.ID, state.HeadUpdatedAt, headID) {
					continue
				}
				state.Head = target
				state.HeadUpdatedAt = e.CreatedAt
				state.HeadUpdatedBy = e.AuthorKey
				headID = e.ID
			}
		}
	}
	return state
}

// BuildPatchGraph links patch-like events through their declared parents.
// Parents come from "e" tags marked "reply"; without any, "e" tags marked
// "root" are used. Nodes without parents are roots when tagged "t root" and
// orphans otherwise. Nodes are ordered by creation time then id.
func (c *ConsistencyResolver) BuildPatchGraph(events []domain.Event) []domain.PatchNode {
	index := make(map[string]int)
	var nodes []domain.PatchNode
	for _, e := range events {
		if !e.Kind.IsPatchLike() {
			continue
		}
		if _, dup := index[e.ID]; dup {
			continue
		}
		index[e.ID] = len(nodes)
		hashtags := e.Tags.Values("t")
		nodes = append(nodes, domain.PatchNode{
			Event:      e,
			ParentIDs:  parentEdges(e),
			IsRoot:     slices.Contains(hashtags, domain.HashtagRoot),
			IsRevision: slices.Contains(hashtags, domain.HashtagRootRevision),
		})
	}

	for _, n := range nodes {
		for _, p := range n.ParentIDs {
			if i, ok := index[p]; ok {
				nodes[i].ChildIDs = append(nodes[i].ChildIDs, n.Event.ID)
			}
		}
	}
	for i := range nodes {
		slices.Sort(nodes[i].ChildIDs)
	}
	slices.SortFunc(nodes, func(a, b domain.PatchNode) int {
		if a.Event.CreatedAt != b.Event.CreatedAt {
			if a.Event.CreatedAt < b.Event.CreatedAt {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Event.ID, b.Event.ID)
	})
	return nodes
}

func parentEdges(e domain.Event) []string {
	var replies, roots []string
	for _, t := range e.Tags.All("e") {
		if t.Value() == "" || t.Value() == e.ID {
			continue
		}
		switch t.At(3) {
		case "reply":
			replies = append(replies, t.Value())
		case "root":
			roots = append(roots, t.Value())
		}
	}
	if len(replies) > 0 {
		return slices.Compact(replies)
	}
	return slices.Compact(roots)
}

// AssembleThread collects the comments scoped directly to root. A comment is
// scoped by an uppercase "E" tag naming the root, or, when it has no "E" tag,
// by a lowercase "e" tag that is marked "root" or unmarked. Duplicate ids keep
// the first occurrence.
func (c *ConsistencyResolver) AssembleThread(root domain.Event, candidates []domain.Event) domain.Thread {
	thread := domain.Thread{Root: root}
	seen := make(map[string]bool)
	for _, e := range candidates {
		if e.ID == root.ID || seen[e.ID] {
			continue
		}
		if e.Kind != domain.KindComment && e.Kind != domain.KindNote {
			continue
		}
		if !scopedTo(e, root.ID) {
			continue
		}
		seen[e.ID] = true
		thread.Comments = append(thread.Comments, e)
	}
	return thread
}

func scopedTo(e domain.Event, rootID string) bool {
	if scopes := e.Tags.Values("E"); len(scopes) > 0 {
		return slices.Contains(scopes, rootID)
	}
	for _, t := range e.Tags.All("e") {
		marker := t.At(3)
		if t.Value() == rootID && (marker == "root" || marker == "") {
			return true
		}
	}
	return false
}

// ResolveStatus picks the status of subject from status events. Only events
// by the subject's author or a key auth allows are considered; with none
// left the status is implicitly open. The latest event wins. Same-second
// events are ordered by kind rank, then by greater id.
func (c *ConsistencyResolver) ResolveStatus(subject domain.Event, events []domain.Event, auth domain.Authorization) domain.StatusRecord {
	trusted := auth.With(subject.AuthorKey)
	var best *domain.Event
	var bestStatus domain.StatusKind

	for i := range events {
		e := events[i]
		status, ok := domain.StatusFromKind(e.Kind)
		if !ok || !trusted.Allows(e.AuthorKey) || !references(e, subject.ID) {
			continue
		}
		if best != nil && !statusBeats(e, status, *best, bestStatus) {
			continue
		}
		best, bestStatus = &events[i], status
	}

	if best == nil {
		return domain.StatusRecord{SubjectID: subject.ID, Status: domain.StatusOpen, Implicit: true}
	}
	ev := *best
	return domain.StatusRecord{SubjectID: subject.ID, Status: bestStatus, Event: &ev}
}

func statusBeats(e domain.Event, s domain.StatusKind, cur domain.Event, curStatus domain.StatusKind) bool {
	if e.CreatedAt != cur.CreatedAt {
		return e.CreatedAt > cur.CreatedAt
	}
	if s.Rank() != curStatus.Rank() {
		return s.Rank() > curStatus.Rank()
	}
	return e.ID > cur.ID
}

// references reports whether e points at id through an "e" tag.
func references(e domain.Event, id string) bool {
	return slices.Contains(e.Tags.Values("e"), id)
}

// EffectiveLabels unions the subject's own tags with label events addressed
// to it. Plain "t" values become t/<value>, except patch markers; "l" values without a namespace
// fall under "ugc". subjectID may be an event id or a repository address.
// The result is deduplicated and sorted.
func (c *ConsistencyResolver) EffectiveLabels(subjectID string, selfTags domain.Tags, external []domain.Event) domain.EffectiveLabelSet {
	set := make(map[domain.Label]bool)
	for _, v := range selfTags.Values("t") {
		if v != "" && !domain.IsPatchMarker(v) {
			set[domain.Label{Namespace: "t", Value: v}] = true
		}
	}
	addLabelTags(set, selfTags)

	for _, e := range external {
		if e.Kind != domain.KindLabel {
			continue
		}
		if !references(e, subjectID) && !slices.Contains(e.Tags.Values("a"), subjectID) {
			continue
		}
		addLabelTags(set, e.Tags)
	}

	out := domain.EffectiveLabelSet{SubjectID: subjectID}
	for l := range set {
		out.Labels = append(out.Labels, l)
	}
	slices.SortFunc(out.Labels, func(a, b domain.Label) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}

func addLabelTags(set map[domain.Label]bool, tags domain.Tags) {
	for _, t := range tags.All("l") {
		if t.Value() == "" {
			continue
		}
		ns := t.At(2)
		if ns == "" {
			ns = "ugc"
		}
		set[domain.Label{Namespace: ns, Value: t.Value()}] = true
	}
}
