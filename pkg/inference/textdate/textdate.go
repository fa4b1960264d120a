// Package textdate recognizes dates written as free text.
//
// Parsers are swappable behind the Parser interface so the inference engine
// never depends on a specific date library.
package textdate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// ErrNotFound is returned when no date could be recognized in the text
var ErrNotFound = errors.New("no date recognized")

// Parser turns text into an absolute instant.
// reference anchors relative expressions such as "yesterday".
type Parser interface {
	Parse(text string, reference time.Time) (time.Time, error)
}

// ParserFunc adapts a function to the Parser interface
type ParserFunc func(text string, reference time.Time) (time.Time, error)

// Parse calls f(text, reference)
func (f ParserFunc) Parse(text string, reference time.Time) (time.Time, error) {
	return f(text, reference)
}

// Layout recognizes dates in any of the common written layouts
// ("March 3, 2021", "2021-03-03 10:00", "03/03/2021", RFC 1123, ...).
// Values without a zone are read as UTC, and date-only values as midnight.
type Layout struct{}

// NewLayout creates a layout parser
func NewLayout() *Layout {
	return &Layout{}
}

// Parse implements Parser
func (p *Layout) Parse(text string, _ time.Time) (t time.Time, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, ErrNotFound
	}

	// dateparse has panicked on truncated input in the past
	defer func() {
		if r := recover(); r != nil {
			t, err = time.Time{}, fmt.Errorf("%w: layout parser panic: %v", ErrNotFound, r)
		}
	}()

	t, err = dateparse.ParseIn(text, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return t.UTC(), nil
}

// Natural recognizes English natural-language expressions
// ("yesterday at 5pm", "3 days ago", "next friday") relative to a reference time.
type Natural struct {
	parser *when.Parser
}

// NewNatural creates a natural-language parser with the English and common rule sets
func NewNatural() *Natural {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Natural{parser: w}
}

// Parse implements Parser. The first expression found in the text wins.
func (p *Natural) Parse(text string, reference time.Time) (t time.Time, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, ErrNotFound
	}

	defer func() {
		if r := recover(); r != nil {
			t, err = time.Time{}, fmt.Errorf("%w: natural parser panic: %v", ErrNotFound, r)
		}
	}()

	res, err := p.parser.Parse(text, reference.UTC())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if res == nil {
		return time.Time{}, ErrNotFound
	}
	return res.Time.UTC(), nil
}

// Chain tries each parser in order and returns the first recognized date
type Chain []Parser

// Parse implements Parser
func (c Chain) Parse(text string, reference time.Time) (time.Time, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		if t, err := p.Parse(text, reference); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrNotFound, text)
}

// Default returns the layout parser followed by the natural-language parser
func Default() Parser {
	return Chain{NewLayout(), NewNatural()}
}
