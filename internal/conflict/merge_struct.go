package conflict

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Side forces one side at leaves where both edited a scalar differently.
type Side int

const (
	SideNone Side = iota
	SideLocal
	SideRemote
)

// StructMerge is the outcome of a structured (key-wise) merge. Conflicts
// lists the dotted paths of leaves both sides changed to different scalars;
// at those leaves Content carries the local value unless a side was forced.
type StructMerge struct {
	Content   []byte
	Conflicts []string
}

// Clean reports whether every key merged without a leaf conflict.
func (m StructMerge) Clean() bool {
	return len(m.Conflicts) == 0
}

// IsStructuredPath reports whether the path's format supports key-wise
// merging.
func IsStructuredPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// MergeStructured merges local and remote edits of a JSON or YAML document
// key by key against base. Maps merge recursively; a key edited on both
// sides to different scalars is a conflict leaf; lists both sides changed
// take the remote value whole, since element order cannot be merged.
// Undecodable content returns an error so the caller can fall back to
// binary treatment.
func MergeStructured(path string, base, local, remote []byte, force Side) (StructMerge, error) {
	decode, encode, err := codecFor(path)
	if err != nil {
		return StructMerge{}, err
	}

	var baseVal, localVal, remoteVal any
	if len(base) > 0 {
		if err := decode(base, &baseVal); err != nil {
			return StructMerge{}, fmt.Errorf("decode base %s: %w", path, err)
		}
	}
	if err := decode(local, &localVal); err != nil {
		return StructMerge{}, fmt.Errorf("decode local %s: %w", path, err)
	}
	if err := decode(remote, &remoteVal); err != nil {
		return StructMerge{}, fmt.Errorf("decode remote %s: %w", path, err)
	}

	m := &structMerger{force: force}
	merged := m.merge(baseVal, localVal, remoteVal, "")

	content, err := encode(merged)
	if err != nil {
		return StructMerge{}, fmt.Errorf("encode merged %s: %w", path, err)
	}
	return StructMerge{Content: content, Conflicts: m.conflicts}, nil
}

type decodeFunc func([]byte, *any) error
type encodeFunc func(any) ([]byte, error)

func codecFor(path string) (decodeFunc, encodeFunc, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		decode := func(data []byte, v *any) error { return json.Unmarshal(data, v) }
		encode := func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }
		return decode, encode, nil
	case ".yaml", ".yml":
		decode := func(data []byte, v *any) error { return yaml.Unmarshal(data, v) }
		encode := func(v any) ([]byte, error) { return yaml.Marshal(v) }
		return decode, encode, nil
	default:
		return nil, nil, fmt.Errorf("no structured codec for %s", path)
	}
}

type structMerger struct {
	force     Side
	conflicts []string
}

func (m *structMerger) merge(base, local, remote any, at string) any {
	if reflect.DeepEqual(local, remote) {
		return local
	}

	localMap, localIsMap := asMap(local)
	remoteMap, remoteIsMap := asMap(remote)
	if localIsMap && remoteIsMap {
		baseMap, _ := asMap(base)
		return m.mergeMaps(baseMap, localMap, remoteMap, at)
	}

	_, localIsList := asList(local)
	_, remoteIsList := asList(remote)
	if localIsList && remoteIsList {
		if base != nil && reflect.DeepEqual(base, local) {
			return remote
		}
		if base != nil && reflect.DeepEqual(base, remote) {
			return local
		}
		// Both reordered or rewrote the list; remote wins whole.
		return remote
	}

	// Scalars, or a type change on one side.
	if base != nil {
		if reflect.DeepEqual(base, local) {
			return remote
		}
		if reflect.DeepEqual(base, remote) {
			return local
		}
	}
	return m.conflictLeaf(local, remote, at)
}

func (m *structMerger) mergeMaps(base, local, remote map[string]any, at string) map[string]any {
	merged := make(map[string]any)
	for _, key := range unionKeys(base, local, remote) {
		childAt := joinPath(at, key)
		baseVal, inBase := base[key]
		localVal, inLocal := local[key]
		remoteVal, inRemote := remote[key]

		switch {
		case inLocal && inRemote:
			var b any
			if inBase {
				b = baseVal
			}
			merged[key] = m.merge(b, localVal, remoteVal, childAt)
		case inLocal:
			// Remote dropped the key; honor the delete only if local left
			// it untouched.
			if inBase && reflect.DeepEqual(baseVal, localVal) {
				continue
			}
			if inBase {
				if v, kept := m.deleteConflict(localVal, SideLocal, childAt); kept {
					merged[key] = v
				}
				continue
			}
			merged[key] = localVal
		case inRemote:
			if inBase && reflect.DeepEqual(baseVal, remoteVal) {
				continue
			}
			if inBase {
				if v, kept := m.deleteConflict(remoteVal, SideRemote, childAt); kept {
					merged[key] = v
				}
				continue
			}
			merged[key] = remoteVal
		}
	}
	return merged
}

// conflictLeaf settles a both-sides-changed scalar: forced side wins, or the
// local value stands in while the leaf is reported unresolved.
func (m *structMerger) conflictLeaf(local, remote any, at string) any {
	switch m.force {
	case SideLocal:
		return local
	case SideRemote:
		return remote
	default:
		m.conflicts = append(m.conflicts, at)
		return local
	}
}

// deleteConflict settles a modified-here, deleted-there key. The modified
// value survives unless the forced side is the one that deleted the key; the
// second return reports whether the key survives.
func (m *structMerger) deleteConflict(survivor any, survivorSide Side, at string) (any, bool) {
	if m.force == SideNone {
		m.conflicts = append(m.conflicts, at)
		return survivor, true
	}
	if m.force == survivorSide {
		return survivor, true
	}
	return nil, false
}

func asMap(v any) (map[string]any, bool) {
	mp, ok := v.(map[string]any)
	return mp, ok
}

func asList(v any) ([]any, bool) {
	list, ok := v.([]any)
	return list, ok
}

func unionKeys(maps ...map[string]any) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, mp := range maps {
		for k := range mp {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func joinPath(at, key string) string {
	if at == "" {
		return key
	}
	return at + "." + key
}
