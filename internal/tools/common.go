package tools

import (
	"regexp"
	"strings"
)

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// stripTags removes HTML markup Brave leaves in snippets and collapses
// whitespace.
func stripTags(s string) string {
	return strings.Join(strings.Fields(htmlTagRe.ReplaceAllString(s, "")), " ")
}
