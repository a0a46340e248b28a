package common

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// A record present in both collections whose contents differ
type Change[T any] struct {
	Before T
	After  T
}

type Diff[T any] struct {
	Additions []T
	Removals  []T
	Changes   []Change[T]
}

func (d Diff[T]) Empty() bool {
	return len(d.Additions) == 0 && len(d.Removals) == 0 && len(d.Changes) == 0
}

// Classify two collections keyed by a stable identifier.
// Additions keep the order of the new collection, removals and
// changes keep the order of the old one.
// Two records with the same key are equal if they serialize to the same JSON
func DiffArrays[T any, K comparable](old, new []T, key func(T) K) Diff[T] {

	oldByKey := make(map[K]T, len(old))
	for _, item := range old {
		oldByKey[key(item)] = item
	}
	newByKey := make(map[K]T, len(new))
	for _, item := range new {
		newByKey[key(item)] = item
	}

	var diff Diff[T]
	for _, item := range new {
		if _, ok := oldByKey[key(item)]; !ok {
			diff.Additions = append(diff.Additions, item)
		}
	}
	for _, item := range old {
		after, ok := newByKey[key(item)]
		if !ok {
			diff.Removals = append(diff.Removals, item)
			continue
		}
		if !SameJSON(item, after) {
			diff.Changes = append(diff.Changes, Change[T]{Before: item, After: after})
		}
	}
	return diff
}

// Compare two values through their JSON representation.
// Values that cannot be serialized fall back to deep equality
func SameJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(ja, jb)
}
