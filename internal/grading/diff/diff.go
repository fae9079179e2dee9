// Package diff compares expected and actual output line by line.
package diff

import (
	"bytes"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

// Line prefixes of a rendered diff.
const (
	PrefixExpected = "- "
	PrefixActual   = "+ "
	PrefixBoth     = "  "
)

// Options are the normalization flags applied before lines are compared.
type Options struct {
	IgnoreCase              bool `json:"ignore_case"`
	IgnoreWhitespace        bool `json:"ignore_whitespace"`
	IgnoreWhitespaceChanges bool `json:"ignore_whitespace_changes"`
	IgnoreBlankLines        bool `json:"ignore_blank_lines"`
}

// Result is the outcome of one comparison. Lines keep their terminators.
type Result struct {
	Pass  bool     `json:"diff_pass"`
	Lines []string `json:"diff_content"`
}

// Compare diffs expected against actual. Normalized lines decide equality,
// the rendered diff shows the original lines.
func Compare(expected, actual []byte, opts Options) Result {
	a := splitLines(expected, opts)
	b := splitLines(actual, opts)

	matcher := difflib.NewMatcherWithJunk(keys(a, opts), keys(b, opts), false, nil)
	res := Result{Pass: true, Lines: make([]string, 0, len(a)+len(b))}
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'e':
			for _, line := range a[op.I1:op.I2] {
				res.Lines = append(res.Lines, PrefixBoth+line)
			}
		case 'd':
			res.Pass = false
			res.Lines = appendPrefixed(res.Lines, PrefixExpected, a[op.I1:op.I2])
		case 'i':
			res.Pass = false
			res.Lines = appendPrefixed(res.Lines, PrefixActual, b[op.J1:op.J2])
		case 'r':
			res.Pass = false
			res.Lines = appendPrefixed(res.Lines, PrefixExpected, a[op.I1:op.I2])
			res.Lines = appendPrefixed(res.Lines, PrefixActual, b[op.J1:op.J2])
		}
	}
	return res
}

// CompareReaders reads both streams fully and compares them.
func CompareReaders(expected, actual io.Reader, opts Options) (Result, error) {
	exp, err := io.ReadAll(expected)
	if err != nil {
		return Result{}, err
	}
	act, err := io.ReadAll(actual)
	if err != nil {
		return Result{}, err
	}
	return Compare(exp, act, opts), nil
}

// CompareFiles compares two files on disk.
func CompareFiles(expectedPath, actualPath string, opts Options) (Result, error) {
	exp, err := os.ReadFile(expectedPath)
	if err != nil {
		return Result{}, err
	}
	act, err := os.ReadFile(actualPath)
	if err != nil {
		return Result{}, err
	}
	return Compare(exp, act, opts), nil
}

func appendPrefixed(dst []string, prefix string, lines []string) []string {
	for _, line := range lines {
		dst = append(dst, prefix+line)
	}
	return dst
}

// splitLines splits after every newline, keeping it. A trailing fragment
// without a newline is its own line.
func splitLines(data []byte, opts Options) []string {
	var lines []string
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		var line string
		if i < 0 {
			line, data = string(data), nil
		} else {
			line, data = string(data[:i+1]), data[i+1:]
		}
		if opts.IgnoreBlankLines && strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func keys(lines []string, opts Options) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = normalize(line, opts)
	}
	return out
}

func normalize(line string, opts Options) string {
	if opts.IgnoreCase {
		line = strings.ToLower(line)
	}
	switch {
	case opts.IgnoreWhitespace:
		line = strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, line)
	case opts.IgnoreWhitespaceChanges:
		line = strings.Join(strings.Fields(line), " ")
	}
	return line
}
