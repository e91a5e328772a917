// Package routertest provides an in-memory router that understands the subset of the
// router CLI the provisioning scripts emit, plus an SSH front end for it.
package routertest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/kamikazebr/madric/internal/server/routeros"
)

var verbs = map[string]bool{
	"add": true, "remove": true, "set": true, "print": true,
	"save": true, "install": true, "enable": true, "disable": true,
}

// Item is one configured resource, e.g. one /ip pool entry
type Item map[string]string

// Router holds the configuration state mutated by executed directives
type Router struct {
	mu       sync.Mutex
	items    map[string][]Item
	settings map[string]Item
	executed []string
	hook     func(cmd string) (output string, handled bool)
}

func NewRouter() *Router {
	return &Router{
		items:    make(map[string][]Item),
		settings: make(map[string]Item),
	}
}

// SetHook installs a function consulted before every directive. When it returns
// handled=true its output is used and the directive is not interpreted.
func (r *Router) SetHook(hook func(cmd string) (string, bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = hook
}

// Exec interprets one directive and returns what the router CLI would print
func (r *Router) Exec(cmd string) string {
	r.mu.Lock()
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		if out, handled := hook(cmd); handled {
			r.mu.Lock()
			r.executed = append(r.executed, cmd)
			r.mu.Unlock()
			return out
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.executed = append(r.executed, cmd)

	tokens := tokenize(strings.TrimSpace(cmd))
	if len(tokens) == 0 {
		return ""
	}
	if strings.HasPrefix(tokens[0], ":") {
		return ""
	}
	if !strings.HasPrefix(tokens[0], "/") {
		return "bad command name " + tokens[0]
	}

	var menu []string
	i := 0
	for ; i < len(tokens) && !verbs[tokens[i]]; i++ {
		menu = append(menu, tokens[i])
	}
	if i == len(tokens) {
		return "syntax error (line 1 column 1)"
	}
	path := strings.Join(menu, " ")
	verb := tokens[i]
	rest := tokens[i+1:]

	switch verb {
	case "add":
		item := Item{}
		for _, tok := range rest {
			k, v, ok := strings.Cut(tok, "=")
			if !ok {
				return "expected end of command (line 1 column 1)"
			}
			item[k] = unquote(v)
		}
		if name, ok := item["name"]; ok {
			for _, existing := range r.items[path] {
				if existing["name"] == name {
					return "failure: already have such name"
				}
			}
		}
		r.items[path] = append(r.items[path], item)
	case "remove":
		if len(rest) != 1 || !strings.HasPrefix(rest[0], "[") {
			return "expected end of command (line 1 column 1)"
		}
		match, err := selector(rest[0])
		if err != nil {
			return "syntax error: " + err.Error()
		}
		kept := r.items[path][:0]
		for _, item := range r.items[path] {
			if !match(item) {
				kept = append(kept, item)
			}
		}
		r.items[path] = kept
	case "set":
		settings := r.settings[path]
		if settings == nil {
			settings = Item{}
			r.settings[path] = settings
		}
		for _, tok := range rest {
			if k, v, ok := strings.Cut(tok, "="); ok {
				settings[k] = unquote(v)
			}
		}
	}
	return ""
}

// Items returns a copy of the entries configured under menu
func (r *Router) Items(menu string) []Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Item, 0, len(r.items[menu]))
	for _, item := range r.items[menu] {
		cp := Item{}
		for k, v := range item {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

// Settings returns the values set on a singleton menu such as "/tool snmp"
func (r *Router) Settings(menu string) Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := Item{}
	for k, v := range r.settings[menu] {
		cp[k] = v
	}
	return cp
}

// Executed returns every directive received, in order
func (r *Router) Executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.executed...)
}

// Snapshot renders the full resource set deterministically, for comparing states
func (r *Router) Snapshot() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var menus []string
	for m := range r.items {
		menus = append(menus, m)
	}
	sort.Strings(menus)

	var b strings.Builder
	for _, m := range menus {
		var rows []string
		for _, item := range r.items[m] {
			var keys []string
			for k := range item {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			var kv []string
			for _, k := range keys {
				kv = append(kv, k+"="+item[k])
			}
			rows = append(rows, strings.Join(kv, " "))
		}
		sort.Strings(rows)
		for _, row := range rows {
			fmt.Fprintf(&b, "%s: %s\n", m, row)
		}
	}
	return b.String()
}

// Dialer returns an in-process routeros.Dialer backed by r
func (r *Router) Dialer() *Dialer {
	return &Dialer{router: r}
}

// Dialer opens in-memory sessions. FailDial makes Dial fail; Closed counts closed sessions.
type Dialer struct {
	router   *Router
	FailDial error

	mu     sync.Mutex
	opened int
	closed int
}

func (d *Dialer) Dial(ctx context.Context) (routeros.Session, error) {
	if d.FailDial != nil {
		return nil, d.FailDial
	}
	d.mu.Lock()
	d.opened++
	d.mu.Unlock()
	return &session{dialer: d}, nil
}

// Counts returns how many sessions were opened and closed
func (d *Dialer) Counts() (opened, closed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened, d.closed
}

type session struct {
	dialer *Dialer
	closed bool
}

func (s *session) Run(ctx context.Context, cmd string) (string, error) {
	if s.closed {
		return "", routeros.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	out := s.dialer.router.Exec(cmd)
	if reason := routeros.Rejection(cmd, out); reason != "" {
		return out, fmt.Errorf("%w: %s", routeros.ErrCommandRejected, reason)
	}
	return out, nil
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.dialer.mu.Lock()
	s.dialer.closed++
	s.dialer.mu.Unlock()
	return nil
}

// tokenize splits on whitespace outside quotes and brackets
func tokenize(line string) []string {
	var (
		tokens  []string
		cur     strings.Builder
		inQuote bool
		escaped bool
		depth   int
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, c := range line {
		switch {
		case escaped:
			escaped = false
			cur.WriteRune(c)
		case c == '\\' && inQuote:
			escaped = true
			cur.WriteRune(c)
		case c == '"':
			inQuote = !inQuote
			cur.WriteRune(c)
		case inQuote:
			cur.WriteRune(c)
		case c == '[' || c == '{' || c == '(':
			depth++
			cur.WriteRune(c)
		case c == ']' || c == '}' || c == ')':
			depth--
			cur.WriteRune(c)
		case (c == ' ' || c == '\t') && depth == 0:
			flush()
		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return tokens
}

var unescaper = strings.NewReplacer(`\\`, `\`, `\"`, `"`, `\$`, `$`, `\?`, `?`, `\n`, "\n", `\r`, "\r", `\t`, "\t")

func unquote(v string) string {
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		return unescaper.Replace(v[1 : len(v)-1])
	}
	return v
}

// selector compiles "[find k=v k~"re"]" into a predicate
func selector(expr string) (func(Item) bool, error) {
	inner := strings.TrimSuffix(strings.TrimPrefix(expr, "["), "]")
	tokens := tokenize(inner)
	if len(tokens) == 0 || tokens[0] != "find" {
		return nil, fmt.Errorf("unsupported selector %s", expr)
	}

	type cond struct {
		key   string
		value string
		re    *regexp.Regexp
	}
	var conds []cond
	for _, tok := range tokens[1:] {
		if k, v, ok := strings.Cut(tok, "~"); ok && !strings.Contains(k, "=") {
			re, err := regexp.Compile(unquote(v))
			if err != nil {
				return nil, err
			}
			conds = append(conds, cond{key: k, re: re})
			continue
		}
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			return nil, fmt.Errorf("unsupported condition %s", tok)
		}
		conds = append(conds, cond{key: k, value: unquote(v)})
	}

	return func(item Item) bool {
		for _, c := range conds {
			got, ok := item[c.key]
			if !ok {
				return false
			}
			if c.re != nil {
				if !c.re.MatchString(got) {
					return false
				}
			} else if got != c.value {
				return false
			}
		}
		return true
	}, nil
}
