package rewrite

import (
	"regexp"
	"strings"
)

// attrRe matches one attribute inside a start tag. The leading whitespace
// keeps the tag name itself from matching.
var attrRe = regexp.MustCompile(`\s([a-zA-Z_:@][-a-zA-Z0-9_:.@]*)(?:\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s"'=<>` + "`" + `]+)))?`)

type attr struct {
	name       string
	value      string
	start, end int
}

func parseAttrs(tag string) []attr {
	var out []attr
	for _, m := range attrRe.FindAllStringSubmatchIndex(tag, -1) {
		a := attr{name: strings.ToLower(tag[m[2]:m[3]]), start: m[0], end: m[1]}
		for _, g := range []int{4, 6, 8} {
			if m[g] >= 0 {
				a.value = tag[m[g]:m[g+1]]
				break
			}
		}
		out = append(out, a)
	}
	return out
}

func findAttr(tag, name string) (attr, bool) {
	for _, a := range parseAttrs(tag) {
		if a.name == name {
			return a, true
		}
	}
	return attr{}, false
}

func getAttr(tag, name string) (string, bool) {
	a, ok := findAttr(tag, name)
	return a.value, ok
}

func hasAttr(tag, name string) bool {
	_, ok := findAttr(tag, name)
	return ok
}

// setAttr replaces the value of name or appends the attribute before the
// closing bracket.
func setAttr(tag, name, value string) string {
	rendered := ` ` + name + `="` + strings.ReplaceAll(value, `"`, "&quot;") + `"`
	if a, ok := findAttr(tag, name); ok {
		return tag[:a.start] + rendered + tag[a.end:]
	}
	end := len(tag) - 1
	if strings.HasSuffix(tag, "/>") {
		end = len(tag) - 2
		for end > 0 && tag[end-1] == ' ' {
			end--
		}
	}
	return tag[:end] + rendered + tag[end:]
}

func removeAttr(tag, name string) string {
	if a, ok := findAttr(tag, name); ok {
		return tag[:a.start] + tag[a.end:]
	}
	return tag
}

// renameAttr changes the attribute name and keeps its value verbatim.
func renameAttr(tag, from, to string) string {
	a, ok := findAttr(tag, from)
	if !ok {
		return tag
	}
	raw := tag[a.start:a.end]
	i := strings.Index(strings.ToLower(raw), from)
	return tag[:a.start] + raw[:i] + to + raw[i+len(from):] + tag[a.end:]
}
