package payload

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the entity type a payload belongs to.
//
// The numeric values follow the driver wire enum, so a dirty signal that
// carries a bare number decodes to the same Kind as one carrying the name.
type Kind int

const (
	KindUnspecified Kind = iota
	KindMessage
	KindContact
	KindRoom
	KindRoomMember
	KindFriendship
	KindPost
	KindTag
	KindTagGroup
)

var kindNames = map[Kind]string{
	KindUnspecified: "unspecified",
	KindMessage:     "message",
	KindContact:     "contact",
	KindRoom:        "room",
	KindRoomMember:  "room-member",
	KindFriendship:  "friendship",
	KindPost:        "post",
	KindTag:         "tag",
	KindTagGroup:    "tag-group",
}

// String returns the lowercase event-name form of the kind ("room-member").
// Unknown values render as "kind(<n>)".
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Known reports whether k is one of the declared kinds.
func (k Kind) Known() bool {
	_, ok := kindNames[k]
	return ok
}

// ParseKind accepts the name ("contact"), the wire number ("2") or the
// String form of an undeclared kind ("kind(12)").
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(s, "kind("), ")"))
	if err != nil {
		return KindUnspecified, fmt.Errorf("unknown payload kind %q", s)
	}
	return Kind(n), nil
}

// MarshalJSON encodes the kind by name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind from its name or its wire number.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*k = Kind(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("payload kind: %w", err)
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// UnmarshalYAML lets scenario and config files name kinds directly.
func (k *Kind) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
