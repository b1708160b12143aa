package profile

import "github.com/maplenook/guildbot/internal/storage"

// Conventional profile fields. The schema is not enforced: callers may store
// any additional fields alongside these.
const (
	FieldRole      = "current_role"
	FieldDiscordID = "discord_id"
	FieldNotes     = "gpt_notes"
	FieldKeywords  = "keywords"
)

// DefaultRole is the role of a user who never set one ("adventurer").
const DefaultRole = "冒險者"

// Profile is a per-user profile document.
type Profile map[string]any

// Default returns the profile handed out for a user with no stored document.
func Default(userID string) Profile {
	return Profile{
		FieldRole:      DefaultRole,
		FieldDiscordID: userID,
		FieldNotes:     "",
		FieldKeywords:  []string{},
	}
}

func (p Profile) Role() string {
	s, _ := p[FieldRole].(string)
	return s
}

func (p Profile) Notes() string {
	s, _ := p[FieldNotes].(string)
	return s
}

// Keywords returns the keyword list whether it was built in memory ([]string)
// or decoded from a document ([]any).
func (p Profile) Keywords() []string {
	switch v := p[FieldKeywords].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// WithRole returns a copy of p with the role set and the discord id mirrored
// from userID.
func (p Profile) WithRole(userID, role string) Profile {
	out := p.Clone()
	if out == nil {
		out = Profile{}
	}
	out[FieldRole] = role
	out[FieldDiscordID] = userID
	return out
}

// Clone returns a deep copy of p. Nested maps and slices are copied so the
// result shares no mutable state with p.
func (p Profile) Clone() Profile {
	if p == nil {
		return nil
	}
	out := make(Profile, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func (p Profile) merge(fields Profile) Profile {
	return Profile(storage.Document(p).Merge(storage.Document(fields)))
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = cloneValue(item)
		}
		return m
	case Profile:
		return val.Clone()
	case storage.Document:
		return Profile(val).Clone()
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = cloneValue(item)
		}
		return s
	case []string:
		s := make([]string, len(val))
		copy(s, val)
		return s
	default:
		return v
	}
}
