package store

import (
	"encoding/json"
	"fmt"

	"github.com/juzibot/wechaty/internal/payload"
)

func marshalKeys(keys []string) (string, error) {
	if keys == nil {
		keys = []string{}
	}
	data, err := json.Marshal(keys)
	if err != nil {
		return "", fmt.Errorf("marshal changed keys: %w", err)
	}
	return string(data), nil
}

func unmarshalKeys(data string) ([]string, error) {
	keys := []string{}
	if err := json.Unmarshal([]byte(data), &keys); err != nil {
		return nil, fmt.Errorf("unmarshal changed keys: %w", err)
	}
	return keys, nil
}

func marshalArgs(args payload.List) (string, error) {
	if args == nil {
		args = payload.List{}
	}
	data, err := payload.MarshalCanonical(args)
	if err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(data), nil
}

func unmarshalArgs(data string) (payload.List, error) {
	v, err := payload.ParseValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	list, ok := v.(payload.List)
	if !ok {
		return nil, fmt.Errorf("unmarshal args: expected JSON array, got %T", v)
	}
	return list, nil
}
