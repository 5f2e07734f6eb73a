// Package enumcodec maps closed sets of protocol constants to symbolic tags.
//
// A Mapping is built once per enumeration, normally from a package-level var,
// and is immutable afterwards. Tags are derived mechanically from the
// constant's canonical name:
//
//	QOS0           -> qos0
//	MQTT_OVER_TLS  -> mqtt-over-tls
//
// Lookups never fail with an error. An unknown value or tag is reported as
// "not found" through the boolean result so callers can treat an absent tag
// as "no preference".
package enumcodec

import (
	"fmt"
	"sort"
	"strings"
)

// Mapping is a bijection between the constants of one enumeration and their tags.
//
// The zero value is an empty mapping; use Build to construct one.
type Mapping[E comparable] struct {
	tags   map[E]string
	values map[string]E
}

// Build derives a tag for every value using nameOf and DeriveTag.
//
// It panics if two values derive the same tag or if a value is listed twice.
// Enumerations are declared in code, so a collision is a programming error
// and must surface at startup rather than at lookup time.
func Build[E comparable](values []E, nameOf func(E) string) Mapping[E] {
	m := Mapping[E]{
		tags:   make(map[E]string, len(values)),
		values: make(map[string]E, len(values)),
	}

	for _, v := range values {
		tag := DeriveTag(nameOf(v))
		if tag == "" {
			panic(fmt.Sprintf("enumcodec: value %v derives an empty tag", v))
		}
		if _, dup := m.tags[v]; dup {
			panic(fmt.Sprintf("enumcodec: value %v listed twice", v))
		}
		if prev, dup := m.values[tag]; dup {
			panic(fmt.Sprintf("enumcodec: values %v and %v both derive tag %q", prev, v, tag))
		}
		m.tags[v] = tag
		m.values[tag] = v
	}

	return m
}

// Tag returns the symbolic tag for v.
func (m Mapping[E]) Tag(v E) (string, bool) {
	tag, ok := m.tags[v]
	return tag, ok
}

// Value returns the constant for tag. Unknown tags report false.
func (m Mapping[E]) Value(tag string) (E, bool) {
	v, ok := m.values[tag]
	return v, ok
}

// Tags returns the sorted tag vocabulary.
func (m Mapping[E]) Tags() []string {
	tags := make([]string, 0, len(m.values))
	for tag := range m.values {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Len returns the number of constants in the mapping.
func (m Mapping[E]) Len() int {
	return len(m.tags)
}

// DeriveTag lower-cases name and replaces word separators with hyphens.
//
// Separators are '_', '-', ' ', '.', and '/'. Runs of separators collapse to a
// single hyphen and leading/trailing separators are dropped.
func DeriveTag(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), isSeparator)
	return strings.Join(fields, "-")
}

func isSeparator(r rune) bool {
	switch r {
	case '_', '-', ' ', '.', '/':
		return true
	}
	return false
}
