package answerkey

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
)

const fieldCount = 5

// Parse reads a key in the line format. Blank lines are skipped; any other
// malformed line fails the whole key with ErrFormat.
func Parse(r io.Reader) (*Key, error) {
	k := New()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := k.parseLine(line); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrFormat, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return k, nil
}

func (k *Key) parseLine(line string) error {
	fields := strings.Split(line, "|")
	if len(fields) != fieldCount {
		return fmt.Errorf("expected %d fields, got %d", fieldCount, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	variant, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("variant %q is not an integer", fields[0])
	}

	question := fields[1]
	if question == "" {
		return fmt.Errorf("empty question id")
	}

	weight, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return fmt.Errorf("question weight %q is not a number", fields[2])
	}
	if weight < 0 {
		return fmt.Errorf("question weight %v is negative", weight)
	}

	credit := make(map[string]float64)
	for _, pair := range strings.Split(fields[3], ",") {
		letter, value, ok := strings.Cut(strings.TrimSpace(pair), ":")
		letter = strings.TrimSpace(letter)
		if !ok || letter == "" {
			return fmt.Errorf("malformed letter:weight pair %q", pair)
		}
		if letter == BlankAnswer {
			return fmt.Errorf("the blank answer %q cannot earn credit", BlankAnswer)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("letter %s weight %q is not a number", letter, value)
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("letter %s credit %v outside [0,1]", letter, v)
		}
		credit[letter] = v
	}

	correct := fields[4]
	if correct == "" || correct == BlankAnswer {
		return fmt.Errorf("missing correct letter")
	}

	k.Add(variant, question, Entry{
		Weight:        weight,
		PartialCredit: credit,
		Correct:       correct,
	})
	return nil
}

// Load reads a key file.
func Load(path string) (*Key, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open answer key: %w", err)
	}
	defer f.Close()

	k, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return k, nil
}

// WriteTo writes the key in the line format: variants ascending, questions
// in key order, letters sorted.
func (k *Key) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	for _, variant := range k.Variants() {
		for _, q := range k.questions {
			e, ok := k.entries[variant][q]
			if !ok {
				continue
			}
			fmt.Fprintf(&buf, "%d|%s|%s|%s|%s\n", variant, q, formatFloat(e.Weight), formatCredit(e.PartialCredit), e.Correct)
		}
	}
	return buf.WriteTo(w)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatCredit renders a partial credit map as sorted letter:value pairs.
func formatCredit(credit map[string]float64) string {
	letters := make([]string, 0, len(credit))
	for l := range credit {
		letters = append(letters, l)
	}
	sort.Strings(letters)

	pairs := make([]string, len(letters))
	for i, l := range letters {
		pairs[i] = l + ":" + formatFloat(credit[l])
	}
	return strings.Join(pairs, ",")
}

// Form is the JSON shape of a key submitted through the web form: variant
// id to question id to entry.
type Form map[string]map[string]Entry

// FromForm converts the JSON form into a key. The form is rendered to the
// line format and parsed back so it gets the same validation as a key file.
// Variants and questions are taken in natural order.
func FromForm(data []byte) (*Key, error) {
	var form Form
	if err := json.Unmarshal(data, &form); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	variants := make([]string, 0, len(form))
	for v := range form {
		variants = append(variants, v)
	}
	naturalSort(variants)

	var buf bytes.Buffer
	for _, v := range variants {
		questions := make([]string, 0, len(form[v]))
		for q := range form[v] {
			questions = append(questions, q)
		}
		naturalSort(questions)

		for _, q := range questions {
			e := form[v][q]
			fmt.Fprintf(&buf, "%s|%s|%s|%s|%s\n", v, q, formatFloat(e.Weight), formatCredit(e.PartialCredit), e.Correct)
		}
	}
	return Parse(&buf)
}
