// Package answerkey loads and writes per-variant answer keys.
//
// The line format holds one record per variant and question:
//
//	variant|question|questionWeight|A:1,B:0.5,C:0|correctLetter
package answerkey

import (
	"errors"
	"sort"
	"strconv"
	"unicode"
)

var (
	// ErrFormat is returned for a key with a malformed line.
	ErrFormat = errors.New("malformed answer key")

	// ErrNotFound is returned when the key file does not exist.
	ErrNotFound = errors.New("answer key not found")
)

// BlankAnswer is the value a decoded sheet records for an unmarked question.
const BlankAnswer = "-"

// Entry is the key for one question of one variant.
type Entry struct {
	Weight        float64            `json:"peso_questao"`
	PartialCredit map[string]float64 `json:"pesos_alternativas"`
	Correct       string             `json:"correta"`
}

// Credit returns the fraction of the weight earned by letter. Letters
// missing from the partial credit map, including the blank answer, earn 0.
func (e Entry) Credit(letter string) float64 {
	if letter == "" || letter == BlankAnswer {
		return 0
	}
	return e.PartialCredit[letter]
}

// Key maps (variant, question) to an Entry. It is read-only once loaded and
// safe for concurrent readers.
type Key struct {
	entries   map[int]map[string]Entry
	questions []string
}

// New returns an empty key.
func New() *Key {
	return &Key{entries: make(map[int]map[string]Entry)}
}

// Add sets the entry for a variant and question. Questions are ordered by
// first appearance across all variants.
func (k *Key) Add(variant int, question string, e Entry) {
	v, ok := k.entries[variant]
	if !ok {
		v = make(map[string]Entry)
		k.entries[variant] = v
	}
	if !k.hasQuestion(question) {
		k.questions = append(k.questions, question)
	}
	v[question] = e
}

func (k *Key) hasQuestion(q string) bool {
	for _, existing := range k.questions {
		if existing == q {
			return true
		}
	}
	return false
}

// Lookup returns the entry for a variant and question.
func (k *Key) Lookup(variant int, question string) (Entry, bool) {
	e, ok := k.entries[variant][question]
	return e, ok
}

// HasVariant reports whether the key has any entry for the variant.
func (k *Key) HasVariant(variant int) bool {
	_, ok := k.entries[variant]
	return ok
}

// Variants returns the variant ids in ascending order.
func (k *Key) Variants() []int {
	ids := make([]int, 0, len(k.entries))
	for id := range k.entries {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Questions returns the question ids in key order. The i-th question is
// scored against the i-th decoded answer of a sheet.
func (k *Key) Questions() []string {
	return append([]string(nil), k.questions...)
}

// Len returns the number of entries across all variants.
func (k *Key) Len() int {
	n := 0
	for _, v := range k.entries {
		n += len(v)
	}
	return n
}

// naturalSort orders ids naturally, so Q2 comes before Q10.
func naturalSort(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		pi, ni, oki := splitNumber(ids[i])
		pj, nj, okj := splitNumber(ids[j])
		if pi != pj || !oki || !okj {
			return ids[i] < ids[j]
		}
		return ni < nj
	})
}

// splitNumber splits a trailing decimal number off an id.
func splitNumber(id string) (string, int, bool) {
	i := len(id)
	for i > 0 && unicode.IsDigit(rune(id[i-1])) {
		i--
	}
	if i == len(id) {
		return id, 0, false
	}
	n, err := strconv.Atoi(id[i:])
	if err != nil {
		return id, 0, false
	}
	return id[:i], n, true
}
