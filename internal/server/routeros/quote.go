package routeros

import "strings"

var quoteReplacer = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`$`, `\$`,
	`?`, `\?`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// Quote renders s as a router string literal. Variable substitution ($) and the
// interactive help key (?) are escaped, so the result is inert until the
// router evaluates the literal. This is the only place strings get escaped.
func Quote(s string) string {
	return `"` + quoteReplacer.Replace(s) + `"`
}

// Value renders an argument value, quoting only when the bare form would not
// survive the router's tokenizer.
func Value(v string) string {
	if v == "" || needsQuote(v) {
		return Quote(v)
	}
	return v
}

func needsQuote(v string) bool {
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("._:/-,+@*", r):
		default:
			return true
		}
	}
	return false
}
