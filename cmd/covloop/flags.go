package main

import (
	"fmt"
	"sort"
	"strings"
)

// keyValueFlag collects repeated --set key=value overrides.
type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	var pairs []string
	for _, key := range kv.Keys() {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, (*kv)[key]))
	}
	return strings.Join(pairs, ", ")
}

func (kv *keyValueFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	key := strings.TrimSpace(parts[0])
	if key == "" {
		return fmt.Errorf("override key is empty in %q", value)
	}
	if *kv == nil {
		*kv = keyValueFlag{}
	}
	(*kv)[key] = parts[1]
	return nil
}

// Type implements pflag.Value.
func (kv *keyValueFlag) Type() string {
	return "key=value"
}

// Keys returns the override keys in a stable order.
func (kv *keyValueFlag) Keys() []string {
	if kv == nil {
		return nil
	}
	keys := make([]string, 0, len(*kv))
	for key := range *kv {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
