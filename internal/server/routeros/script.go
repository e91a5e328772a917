package routeros

import (
	"fmt"
	"sort"
	"strings"
)

// CommentPrefix marks a script line that is never sent to the device
const CommentPrefix = "#"

// Line is one line of a script: either a comment or an executable directive
type Line struct {
	Comment bool
	Text    string
}

func (l Line) String() string {
	if l.Comment {
		if l.Text == "" {
			return CommentPrefix
		}
		return CommentPrefix + " " + l.Text
	}
	return l.Text
}

// Arg is a single key=value argument of a directive
type Arg struct {
	Key   string
	Value string
}

// A builds an argument
func A(key string, value interface{}) Arg {
	return Arg{Key: key, Value: fmt.Sprint(value)}
}

func (a Arg) String() string {
	return a.Key + "=" + Value(a.Value)
}

// Script is an ordered sequence of router directives and comments.
// The zero value is an empty script ready to use.
type Script struct {
	lines []Line
}

// Comment appends a comment line
func (s *Script) Comment(format string, args ...interface{}) *Script {
	s.lines = append(s.lines, Line{Comment: true, Text: fmt.Sprintf(format, args...)})
	return s
}

// Blank appends an empty line, rendered but never sent
func (s *Script) Blank() *Script {
	s.lines = append(s.lines, Line{})
	return s
}

// Command appends "<menu> <verb> k=v ..." e.g. Command("/ip pool", "add", A("name", "x"))
func (s *Script) Command(menu, verb string, args ...Arg) *Script {
	var b strings.Builder
	b.WriteString(menu)
	b.WriteString(" ")
	b.WriteString(verb)
	for _, a := range args {
		b.WriteString(" ")
		b.WriteString(a.String())
	}
	s.lines = append(s.lines, Line{Text: b.String()})
	return s
}

// Add appends a creation directive
func (s *Script) Add(menu string, args ...Arg) *Script {
	return s.Command(menu, "add", args...)
}

// Remove appends a best-effort removal of every item in menu matched by selector
func (s *Script) Remove(menu string, selector Selector) *Script {
	s.lines = append(s.lines, Line{Text: menu + " remove " + selector.String()})
	return s
}

// Raw appends a directive verbatim. Used for scripting statements (:foreach, :if, ...)
// that do not follow the menu/verb/args shape.
func (s *Script) Raw(stmt string) *Script {
	s.lines = append(s.lines, Line{Text: stmt})
	return s
}

// Append copies all lines of other to the end of s
func (s *Script) Append(other Script) *Script {
	s.lines = append(s.lines, other.lines...)
	return s
}

// Lines returns a copy of all lines, comments included
// Commands returns the executable directives in order, comments and blanks dropped
func (s Script) Commands() []string {
	var cmds []string
	for _, l := range s.lines {
		if l.Comment || strings.TrimSpace(l.Text) == "" {
			continue
		}
		cmds = append(cmds, l.Text)
	}
	return cmds
}

// String renders the full script text as served to devices
func (s Script) String() string {
	var b strings.Builder
	for _, l := range s.lines {
		b.WriteString(l.String())
		b.WriteString("\n")
	}
	return b.String()
}

// Inline serialises the directives into a single line of ";"-separated statements,
// suitable as a scheduler on-event body or a block body
func (s Script) Inline() string {
	return strings.Join(s.Commands(), "; ")
}

// Block renders the directives as a braced statement block
func (s Script) Block() string {
	return "{ " + s.Inline() + " }"
}

// ParseCommands splits raw script text into executable directives,
// trimming whitespace and dropping blanks and comment lines.
func ParseCommands(text string) []string {
	var cmds []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, CommentPrefix) {
			continue
		}
		cmds = append(cmds, line)
	}
	return cmds
}

// Selector picks items inside a menu for removal or update
type Selector struct {
	exact map[string]string
	match map[string]string
}

// Find selects items whose properties equal the given values: Find("name", "x") -> [find name=x]
func Find(kv ...string) Selector {
	sel := Selector{exact: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		sel.exact[kv[i]] = kv[i+1]
	}
	return sel
}

// FindMatch selects items whose property matches a regular expression fragment:
// FindMatch("address", "192.168.100.1") -> [find address~"192.168.100.1"]
func FindMatch(key, fragment string) Selector {
	return Selector{match: map[string]string{key: fragment}}
}

func (sel Selector) String() string {
	var parts []string
	for _, k := range sortedKeys(sel.exact) {
		parts = append(parts, k+"="+Value(sel.exact[k]))
	}
	for _, k := range sortedKeys(sel.match) {
		parts = append(parts, k+"~"+Quote(sel.match[k]))
	}
	if len(parts) == 0 {
		return "[find]"
	}
	return "[find " + strings.Join(parts, " ") + "]"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
