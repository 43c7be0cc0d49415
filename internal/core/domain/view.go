package domain

// RepoRequest addresses a repository on relays by its owner key and identifier.
type RepoRequest struct {
	OwnerKey   string
	Identifier string
	Relays     []string
}

// Address returns the announcement coordinate of the request.
func (r RepoRequest) Address() string {
	return RepoAddress(r.OwnerKey, r.Identifier)
}

// ItemView is an issue or patch root with its resolved status, labels and thread.
type ItemView struct {
	Event  Event
	Status StatusRecord
	Labels EffectiveLabelSet
	Thread Thread
}

// RepoView is the merged, read-only projection of a repository from relay events.
type RepoView struct {
	Identity      RepoIdentity
	Announcements []Event
	Authorization Authorization
	State         RepoState
	Issues        []ItemView
	Patches       []ItemView
	PatchGraph    []PatchNode
	// Fingerprint identifies the event set the view was computed from.
	Fingerprint string
}
