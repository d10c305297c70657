// Package catalog talks to the remote course catalog service and owns the
// local reconciliation cache of remote course metadata. The paginated
// "current page" view (QueryState driven) is deliberately separate from
// the cache, so a course referenced by a local save slot can be annotated
// with fresh metadata even when it falls outside the current page.
package catalog

import (
	"encoding/json"
	"fmt"
)

// Difficulty is the five-way closed difficulty rating a catalog course may
// carry. Unset serializes as absent.
type Difficulty int

// Difficulty values.
const (
	DifficultyUnset Difficulty = iota
	DifficultyEasy
	DifficultyNormal
	DifficultyExpert
	DifficultySuperExpert
)

// String returns the wire name of the difficulty.
func (d Difficulty) String() string {
	switch d {
	case DifficultyEasy:
		return "easy"
	case DifficultyNormal:
		return "normal"
	case DifficultyExpert:
		return "expert"
	case DifficultySuperExpert:
		return "superexpert"
	default:
		return ""
	}
}

// Display returns the human-readable name of the difficulty.
func (d Difficulty) Display() string {
	switch d {
	case DifficultyEasy:
		return "Easy"
	case DifficultyNormal:
		return "Normal"
	case DifficultyExpert:
		return "Expert"
	case DifficultySuperExpert:
		return "Super Expert"
	default:
		return "Unset"
	}
}

// ParseDifficulty parses a wire name into a Difficulty.
func ParseDifficulty(s string) (Difficulty, error) {
	switch s {
	case "easy":
		return DifficultyEasy, nil
	case "normal":
		return DifficultyNormal, nil
	case "expert":
		return DifficultyExpert, nil
	case "superexpert":
		return DifficultySuperExpert, nil
	case "":
		return DifficultyUnset, nil
	}
	return DifficultyUnset, fmt.Errorf("unknown difficulty %q", s)
}

// MarshalJSON implements json.Marshaler.
func (d Difficulty) MarshalJSON() ([]byte, error) {
	if d == DifficultyUnset {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Difficulty) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = DifficultyUnset
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDifficulty(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// CourseMetadata is the catalog service's view of one course. Instances
// are owned by the Cache, keyed by ID, and replaced wholesale by fetch
// responses; votes and thumbnails are patched in between fetches.
type CourseMetadata struct {
	ID           string      `json:"id" yaml:"id"`
	Owner        string      `json:"owner" yaml:"owner"`
	Uploader     string      `json:"uploader" yaml:"uploader"`
	Difficulty   *Difficulty `json:"difficulty,omitempty" yaml:"difficulty,omitempty"`
	LastModified int64       `json:"lastModified" yaml:"last_modified"`
	Uploaded     int64       `json:"uploaded" yaml:"uploaded"`
	Votes        int         `json:"votes" yaml:"votes"`
	OwnVote      int         `json:"ownVote" yaml:"own_vote"`
	Thumbnail    []byte      `json:"-" yaml:"thumbnail,omitempty"`
}

// UserIdentity identifies the authenticated catalog user. Ownership checks
// (delete button, "uploaded by me" badge) compare against ID.
type UserIdentity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// VoteValue reports whether v is a legal vote: -1 downvote, 0 retract,
// 1 upvote.
func VoteValue(v int) bool {
	return v >= -1 && v <= 1
}
