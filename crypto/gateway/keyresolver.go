package gateway

import (
	"fmt"
	"strings"
)

// IndexEntry is one row of a persistent key index file: a key/cert
// plus the abilities it may be used for (§4.4: "a candidate list
// from a persistent index file matching address substring, hash, or
// label").
type IndexEntry struct {
	Key
	Abilities []Ability
}

func (e IndexEntry) can(a Ability) bool {
	for _, got := range e.Abilities {
		if got == a {
			return true
		}
	}
	return false
}

// Index is an in-memory persistent key index, matched by address
// substring, key ID, or label.
type Index struct {
	Entries []IndexEntry
}

// FindKeys returns every entry in the index usable for ability whose
// Addr, ID, or Label mentions addr (case-insensitive substring match,
// matching the "matching address substring, hash, or label" rule).
func (idx *Index) FindKeys(addr string, ability Ability) ([]Key, error) {
	var out []Key
	needle := strings.ToLower(addr)
	for _, e := range idx.Entries {
		if !e.can(ability) {
			continue
		}
		if strings.Contains(strings.ToLower(e.Addr), needle) ||
			strings.Contains(strings.ToLower(e.ID), needle) ||
			strings.Contains(strings.ToLower(e.Label), needle) {
			out = append(out, e.Key)
		}
	}
	return out, nil
}

// SelectionMode controls how SelectKey resolves ambiguity.
type SelectionMode int

const (
	// Opportunistic picks a single trusted match silently; if none and
	// strongKeysOnly is false, picks a single valid (untrusted) match;
	// otherwise declines.
	Opportunistic SelectionMode = iota
	// Interactive requires the caller to present candidates and obtain
	// explicit confirmation for a non-trusted key; SelectKey itself
	// never prompts (that's the compose controller's job) — it returns
	// ErrAmbiguous so the caller knows a menu is needed.
	Interactive
)

// ErrNoKey is returned when key selection finds no usable candidate.
var ErrNoKey = fmt.Errorf("gateway: no usable key")

// ErrAmbiguous is returned when Interactive mode finds more than one
// candidate, or Opportunistic mode finds more than one trusted
// candidate — the caller must present a menu.
var ErrAmbiguous = fmt.Errorf("gateway: ambiguous key selection, menu required")

// SelectKey applies §4.4's key-selection policy over candidates,
// already filtered by ability and resolved against addr.
func SelectKey(mode SelectionMode, candidates []Key, strongKeysOnly bool) (Key, error) {
	if len(candidates) == 0 {
		return Key{}, ErrNoKey
	}

	var trusted []Key
	for _, k := range candidates {
		if k.Trusted {
			trusted = append(trusted, k)
		}
	}

	switch mode {
	case Opportunistic:
		if len(trusted) == 1 {
			return trusted[0], nil
		}
		if len(trusted) > 1 {
			return Key{}, ErrAmbiguous
		}
		if strongKeysOnly {
			return Key{}, ErrNoKey
		}
		if len(candidates) == 1 {
			return candidates[0], nil
		}
		return Key{}, ErrAmbiguous
	case Interactive:
		if len(candidates) == 1 {
			return candidates[0], nil
		}
		return Key{}, ErrAmbiguous
	default:
		return Key{}, fmt.Errorf("gateway: unknown selection mode %d", mode)
	}
}
