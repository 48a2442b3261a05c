// Package langcode translates OCR language codes between the classical
// engine vocabulary (tesseract style "eng", "chi_sim") and the neural engine
// vocabulary (easyocr style "en", "ch_sim").
package langcode

import (
	"fmt"
	"sort"
	"strings"

	"github.com/efebarandurmaz/docrag/internal/model"
)

// Vocabulary names a family of language codes.
type Vocabulary string

const (
	Classical Vocabulary = "classical"
	Neural    Vocabulary = "neural"
)

// Pair links one classical code to one neural code.
type Pair struct {
	Classical string
	Neural    string
}

// DefaultPairs is the built-in table.
var DefaultPairs = []Pair{
	{"eng", "en"},
	{"tha", "th"},
	{"deu", "de"},
	{"fra", "fr"},
	{"jpn", "ja"},
	{"kor", "ko"},
	{"chi_sim", "ch_sim"},
	{"chi_tra", "ch_tra"},
	{"spa", "es"},
	{"ita", "it"},
	{"por", "pt"},
	{"nld", "nl"},
	{"pol", "pl"},
	{"rus", "ru"},
	{"ukr", "uk"},
	{"tur", "tr"},
	{"ara", "ar"},
	{"hin", "hi"},
	{"vie", "vi"},
	{"ind", "id"},
}

// Table is an immutable bidirectional mapping.
type Table struct {
	toNeural    map[string]string
	toClassical map[string]string
}

var defaultTable = MustNew(DefaultPairs)

// Default returns the built-in table.
func Default() *Table { return defaultTable }

// New builds a table and rejects duplicate or empty codes in either direction.
func New(pairs []Pair) (*Table, error) {
	t := &Table{
		toNeural:    make(map[string]string, len(pairs)),
		toClassical: make(map[string]string, len(pairs)),
	}
	for _, p := range pairs {
		if p.Classical == "" || p.Neural == "" {
			return nil, fmt.Errorf("langcode: empty code in pair %+v", p)
		}
		if _, dup := t.toNeural[p.Classical]; dup {
			return nil, fmt.Errorf("langcode: classical code %q mapped twice", p.Classical)
		}
		if _, dup := t.toClassical[p.Neural]; dup {
			return nil, fmt.Errorf("langcode: neural code %q mapped twice", p.Neural)
		}
		t.toNeural[p.Classical] = p.Neural
		t.toClassical[p.Neural] = p.Classical
	}
	return t, nil
}

// MustNew is New for package-level tables.
func MustNew(pairs []Pair) *Table {
	t, err := New(pairs)
	if err != nil {
		panic(err)
	}
	return t
}

// ToNeural maps one classical code.
func (t *Table) ToNeural(code string) (string, error) {
	if n, ok := t.toNeural[code]; ok {
		return n, nil
	}
	return "", fmt.Errorf("%w: %q has no neural engine equivalent", model.ErrUnsupportedLanguage, code)
}

// ToClassical maps one neural code.
func (t *Table) ToClassical(code string) (string, error) {
	if c, ok := t.toClassical[code]; ok {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q has no classical engine equivalent", model.ErrUnsupportedLanguage, code)
}

// Translate converts codes into the target vocabulary. Codes already in the
// target vocabulary are accepted when the table knows them. Order is kept and
// duplicates are dropped.
func (t *Table) Translate(codes []string, to Vocabulary) ([]string, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: no language given", model.ErrUnsupportedLanguage)
	}
	out := make([]string, 0, len(codes))
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		translated, err := t.translateOne(code, to)
		if err != nil {
			return nil, err
		}
		if !seen[translated] {
			seen[translated] = true
			out = append(out, translated)
		}
	}
	return out, nil
}

func (t *Table) translateOne(code string, to Vocabulary) (string, error) {
	switch to {
	case Neural:
		if _, ok := t.toClassical[code]; ok {
			return code, nil
		}
		return t.ToNeural(code)
	case Classical:
		if _, ok := t.toNeural[code]; ok {
			return code, nil
		}
		return t.ToClassical(code)
	default:
		return "", fmt.Errorf("langcode: unknown vocabulary %q", to)
	}
}

// Codes lists the table's codes in one vocabulary, sorted.
func (t *Table) Codes(v Vocabulary) []string {
	src := t.toNeural
	if v == Neural {
		src = t.toClassical
	}
	out := make([]string, 0, len(src))
	for k := range src {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ParseSpec splits a language spec such as "tha+eng" or "th,en" into codes.
func ParseSpec(spec string) ([]string, error) {
	fields := strings.FieldsFunc(spec, func(r rune) bool {
		return r == '+' || r == ',' || r == ' '
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty language spec", model.ErrUnsupportedLanguage)
	}
	for i, f := range fields {
		fields[i] = strings.ToLower(strings.TrimSpace(f))
	}
	return fields, nil
}

// JoinClassical joins classical codes the way tesseract expects them.
func JoinClassical(codes []string) string {
	return strings.Join(codes, "+")
}
