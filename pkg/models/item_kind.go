package models

import (
	"fmt"
	"strings"
)

// ItemKind distinguishes the two parallel families of reviewable items.
type ItemKind string

const (
	KindCharacter ItemKind = "character"
	KindSentence  ItemKind = "sentence"
)

// Kinds lists every supported kind in display order.
var Kinds = []ItemKind{KindCharacter, KindSentence}

// ParseKind accepts both the singular kind and its plural route form
// ("characters", "sentences").
func ParseKind(s string) (ItemKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "character", "characters":
		return KindCharacter, nil
	case "sentence", "sentences":
		return KindSentence, nil
	}
	return "", fmt.Errorf("unknown item kind %q", s)
}

// Plural returns the route segment for the kind.
func (k ItemKind) Plural() string {
	return string(k) + "s"
}

// IsValid reports whether k is one of the known kinds.
func (k ItemKind) IsValid() bool {
	return k == KindCharacter || k == KindSentence
}
