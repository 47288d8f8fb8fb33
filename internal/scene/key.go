// Package scene — scene key builder and parser.
//
// A scene is one chat context with its own timing and rate-limit state.
// Keys follow the canonical format:
//
//	{kind}:{id}
//
// Where {kind} is "group" or "private":
//
//	group:-100123456
//	private:386246614
package scene

import (
	"fmt"
	"strings"
)

// Kind distinguishes group chats from private (1-on-1) conversations.
type Kind string

const (
	KindGroup   Kind = "group"
	KindPrivate Kind = "private"
)

// Key identifies one scene. The zero value is invalid.
type Key struct {
	Kind Kind
	ID   string
}

// NewKey builds a scene key for a chat.
func NewKey(kind Kind, id string) Key {
	return Key{Kind: kind, ID: id}
}

// String returns the canonical "{kind}:{id}" form used as the durable
// store key and in log lines.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.Kind, k.ID)
}

// IsGroup reports whether the scene is a group chat.
func (k Key) IsGroup() bool { return k.Kind == KindGroup }

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool { return k.Kind == "" && k.ID == "" }

// ParseKey parses the canonical "{kind}:{id}" form. The id part may itself
// contain colons (Discord guild/channel composites).
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Key{}, fmt.Errorf("malformed scene key: %q", s)
	}
	kind := Kind(parts[0])
	switch kind {
	case KindGroup, KindPrivate:
	default:
		return Key{}, fmt.Errorf("unknown scene kind: %q", parts[0])
	}
	return Key{Kind: kind, ID: parts[1]}, nil
}
