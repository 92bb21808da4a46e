package rules

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// DefaultMaxLineLen bounds a single rule line. Longer lines are skipped whole.
const DefaultMaxLineLen = 1024

// ErrConfigMissing reports a nonexistent rule file. Callers treat it as a
// load failure like any other, but it is logged as expected rather than as
// an I/O fault.
var ErrConfigMissing = errors.New("rule config file does not exist")

// LoadError is the single failure type the loader returns. Either Cause is
// set (open/stat/permission/read failure) or LineErrors counts the invalid
// expressions found in an otherwise readable file.
type LoadError struct {
	Path       string
	LineErrors int
	Cause      error
}

func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("load rules from %s: %v", e.Path, e.Cause)
	}
	return fmt.Sprintf("load rules from %s: %d invalid expressions", e.Path, e.LineErrors)
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Validator checks a candidate expression line for syntax errors. The
// matching engine provides the implementation.
type Validator interface {
	CheckExpression(expr string) error
}

// Loader reads a rule file into a RuleSet. Loading is all-or-nothing: any
// invalid expression rejects the whole file so a reload can never leave a
// partially built rule set active.
type Loader struct {
	validator  Validator
	maxLineLen int
}

func NewLoader(v Validator, maxLineLen int) *Loader {
	if maxLineLen <= 0 {
		maxLineLen = DefaultMaxLineLen
	}
	return &Loader{validator: v, maxLineLen: maxLineLen}
}

// Load opens, gates and parses the rule file at path.
func (l *Loader) Load(path string) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.Infof("Rule config %s doesn't exist, skipping", path)
			return nil, &LoadError{Path: path, Cause: ErrConfigMissing}
		}
		logrus.Errorf("Error opening rule config %s: %v", path, err)
		return nil, &LoadError{Path: path, Cause: err}
	}
	defer f.Close()

	// Stat the open descriptor, not the path, so the file checked is the
	// file read.
	if err := checkOwnership(f, path); err != nil {
		logrus.Errorf("Refusing rule config %s: %v", path, err)
		return nil, &LoadError{Path: path, Cause: err}
	}

	set, errCount, err := l.parse(f, path)
	if err != nil {
		logrus.Errorf("Error reading rule config %s: %v", path, err)
		return nil, &LoadError{Path: path, Cause: err}
	}
	if errCount > 0 {
		return nil, &LoadError{Path: path, LineErrors: errCount}
	}
	return set, nil
}

// checkOwnership requires a regular file owned by root and not writable by
// other. Violations reject the file before a single line is read.
func checkOwnership(f *os.File, path string) error {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return fmt.Errorf("fstat failed: %w", err)
	}
	if st.Uid != 0 {
		return fmt.Errorf("%s isn't owned by root", path)
	}
	if st.Mode&unix.S_IWOTH == unix.S_IWOTH {
		return fmt.Errorf("%s is world writable", path)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		return fmt.Errorf("%s is not a regular file", path)
	}
	return nil
}

// parse scans line by line. A logical line longer than maxLineLen is skipped
// whole with a single warning; the tooLong flag resets only when the next
// real newline is seen, so the overflow fragments can't be misread as rules.
func (l *Loader) parse(r io.Reader, path string) (*RuleSet, int, error) {
	reader := bufio.NewReaderSize(r, l.maxLineLen)
	set := NewRuleSet()
	errCount := 0
	lineno := 0
	tooLong := false

	for {
		chunk, isPrefix, err := reader.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}

		if !tooLong {
			lineno++
		}
		if isPrefix {
			if !tooLong {
				logrus.Warnf("Skipping line %d in %s: too long", lineno, path)
				tooLong = true
			}
			continue
		}
		if tooLong {
			// Tail of an overlong line; discard and start fresh.
			tooLong = false
			continue
		}

		l.parseLine(string(chunk), lineno, set, &errCount)
	}

	return set, errCount, nil
}

func (l *Loader) parseLine(line string, lineno int, set *RuleSet, errCount *int) {
	line = strings.TrimLeft(line, " ")

	// Empty line or a comment.
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	if err := l.validator.CheckExpression(line); err != nil {
		logrus.Errorf("Invalid expression on line %d: %s (%v)", lineno, line, err)
		*errCount++
		return
	}

	set.Append(Rule{Expression: line, Line: lineno})
}
