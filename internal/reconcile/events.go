package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/juzibot/wechaty/internal/diff"
	"github.com/juzibot/wechaty/internal/entity"
	"github.com/juzibot/wechaty/internal/payload"
	"github.com/juzibot/wechaty/internal/puppet"
)

// Event names. Field events use the field name itself on the entity bus and
// GlobalEventName(kind, field) on the global bus.
const (
	EventUpdate    = "update"
	EventDirty     = "dirty"
	EventError     = "error"
	EventTagAdd    = "tag-add"
	EventTagRemove = "tag-remove"
	EventOwner     = "owner"
	EventTag       = "tag"
	EventTagGroup  = "tag-group"
)

// GlobalEventName prefixes name with the entity kind: ("contact", "name")
// gives "contact-name".
func GlobalEventName(kind payload.Kind, name string) string {
	return kind.String() + "-" + name
}

// UpdateEvent carries the regular differences of one pass.
type UpdateEvent struct {
	Type    payload.Kind           `json:"type"`
	ID      string                 `json:"id"`
	Updates []diff.FieldDifference `json:"updates"`
}

// Describe renders an emitted argument as a payload.Value, for journals and
// traces. Entities render as {"kind","id"}.
func Describe(arg any) payload.Value {
	switch v := arg.(type) {
	case nil:
		return payload.Null{}
	case payload.Value:
		return v
	case entity.Handle:
		return payload.Object{
			"kind": payload.String(v.Kind().String()),
			"id":   payload.String(v.ID()),
		}
	case []entity.Handle:
		out := make(payload.List, len(v))
		for i, h := range v {
			out[i] = Describe(h)
		}
		return out
	case UpdateEvent:
		updates := make(payload.List, len(v.Updates))
		for i, d := range v.Updates {
			updates[i] = Describe(d)
		}
		return payload.Object{
			"type":    payload.String(v.Type.String()),
			"id":      payload.String(v.ID),
			"updates": updates,
		}
	case diff.FieldDifference:
		obj := payload.Object{"key": payload.String(v.Key)}
		if v.OldValue != nil {
			obj["oldValue"] = v.OldValue
		}
		if v.NewValue != nil {
			obj["newValue"] = v.NewValue
		}
		return obj
	case payload.Kind:
		return payload.String(v.String())
	case puppet.TagEventType:
		return payload.String(string(v))
	case time.Time:
		return payload.String(v.UTC().Format(time.RFC3339Nano))
	case error:
		var re *Error
		if errors.As(v, &re) {
			return payload.Object{
				"code":  payload.String(string(re.Code)),
				"error": payload.String(v.Error()),
			}
		}
		return payload.String(v.Error())
	case fmt.Stringer:
		return payload.String(v.String())
	}
	if val, err := payload.FromAny(arg); err == nil {
		return val
	}
	return payload.String(fmt.Sprintf("%v", arg))
}

// DescribeArgs applies Describe to each argument.
func DescribeArgs(args []any) payload.List {
	out := make(payload.List, len(args))
	for i, a := range args {
		out[i] = Describe(a)
	}
	return out
}
