package domain

// DataLevel indicates how much of a repository's git data is materialized locally.
// Levels are totally ordered: none < refs < shallow < full.
type DataLevel int

// Data levels.
const (
	DataLevelNone DataLevel = iota
	DataLevelRefs
	DataLevelShallow
	DataLevelFull
)

// String returns the level name.
func (l DataLevel) String() string {
	switch l {
	case DataLevelRefs:
		return "refs"
	case DataLevelShallow:
		return "shallow"
	case DataLevelFull:
		return "full"
	default:
		return "none"
	}
}

// IsValid returns true for the four defined levels.
func (l DataLevel) IsValid() bool {
	return l >= DataLevelNone && l <= DataLevelFull
}

// Satisfies reports whether this level already covers the requested one.
func (l DataLevel) Satisfies(requested DataLevel) bool {
	return l >= requested
}

// ParseDataLevel converts a level name. Unknown names map to none.
func ParseDataLevel(s string) DataLevel {
	switch s {
	case "refs":
		return DataLevelRefs
	case "shallow":
		return DataLevelShallow
	case "full":
		return DataLevelFull
	default:
		return DataLevelNone
	}
}
