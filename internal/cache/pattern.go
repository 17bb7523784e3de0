package cache

import (
	"regexp"
	"strings"
)

// compilePattern turns a glob ("*" any run, "?" one char) into an anchored regexp
func compilePattern(glob string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func matchingKeys(keys []string, glob string) []string {
	re, err := compilePattern(glob)
	if err != nil {
		return nil
	}
	var out []string
	for _, k := range keys {
		if re.MatchString(k) {
			out = append(out, k)
		}
	}
	return out
}
