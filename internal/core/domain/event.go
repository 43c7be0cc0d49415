package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Kind discriminates the semantic type of an event.
type Kind int

// Event kinds used by the Git-over-events protocol.
const (
	KindProfile           Kind = 0
	KindNote              Kind = 1
	KindComment           Kind = 1111
	KindPatch             Kind = 1617
	KindPullRequest       Kind = 1618
	KindPullRequestUpdate Kind = 1619
	KindIssue             Kind = 1621
	KindStatusOpen        Kind = 1630
	KindStatusApplied     Kind = 1631
	KindStatusClosed      Kind = 1632
	KindStatusDraft       Kind = 1633
	KindLabel             Kind = 1985
	KindRepoAnnouncement  Kind = 30617
	KindRepoState         Kind = 30618
)

// IsStatus returns true for the four status kinds.
func (k Kind) IsStatus() bool {
	return k >= KindStatusOpen && k <= KindStatusDraft
}

// IsPatchLike returns true for kinds that form a patch DAG.
func (k Kind) IsPatchLike() bool {
	return k == KindPatch || k == KindPullRequest || k == KindPullRequestUpdate
}

// Tag is one ordered tag entry, e.g. ["e", "<id>", "", "reply"].
type Tag []string

// Name returns the tag name or empty string.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the first value of the tag or empty string.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// At returns the element at index i or empty string.
func (t Tag) At(i int) string {
	if i < 0 || i >= len(t) {
		return ""
	}
	return t[i]
}

// Tags is the ordered tag list of an event.
type Tags []Tag

// First returns the first tag with the given name.
func (ts Tags) First(name string) (Tag, bool) {
	for _, t := range ts {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// Value returns the first value of the first tag with the given name.
func (ts Tags) Value(name string) string {
	t, ok := ts.First(name)
	if !ok {
		return ""
	}
	return t.Value()
}

// All returns every tag with the given name, in order.
func (ts Tags) All(name string) []Tag {
	var out []Tag
	for _, t := range ts {
		if t.Name() == name {
			out = append(out, t)
		}
	}
	return out
}

// Values returns the first value of every tag with the given name.
func (ts Tags) Values(name string) []string {
	var out []string
	for _, t := range ts {
		if t.Name() == name && len(t) > 1 {
			out = append(out, t[1])
		}
	}
	return out
}

// Event is an immutable signed record.
type Event struct {
	ID        string `json:"id"`
	AuthorKey string `json:"pubkey"`
	Kind      Kind   `json:"kind"`
	CreatedAt int64  `json:"created_at"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig,omitempty"`
}

// Time returns CreatedAt as a time.Time.
func (e Event) Time() time.Time {
	return time.Unix(e.CreatedAt, 0).UTC()
}

// UnsignedEvent is an event before the signer assigns author, id and signature.
type UnsignedEvent struct {
	Kind      Kind
	CreatedAt int64
	Tags      Tags
	Content   string
}

// ComputeEventID returns the content hash of an event: the hex SHA-256 of
// [0, authorKey, createdAt, kind, tags, content].
func ComputeEventID(authorKey string, u UnsignedEvent) string {
	tags := u.Tags
	if tags == nil {
		tags = Tags{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]any{0, authorKey, u.CreatedAt, int(u.Kind), tags, u.Content}); err != nil {
		return ""
	}
	sum := sha256.Sum256(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return hex.EncodeToString(sum[:])
}

// RepoAddress builds the "a" tag coordinate of a repository announcement.
func RepoAddress(authorKey, identifier string) string {
	return strconv.Itoa(int(KindRepoAnnouncement)) + ":" + authorKey + ":" + identifier
}

// ParseRepoAddress splits a "30617:<author>:<identifier>" coordinate.
func ParseRepoAddress(addr string) (authorKey, identifier string, ok bool) {
	parts := strings.SplitN(addr, ":", 3)
	if len(parts) != 3 || parts[0] != strconv.Itoa(int(KindRepoAnnouncement)) || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
