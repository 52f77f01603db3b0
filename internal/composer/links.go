package composer

import (
	"regexp"
	"strings"
)

var timeRangeRe = regexp.MustCompile(`\[(\d+)->(\d+)\]`)

// RewriteTimestamps turns every "[A->B]" in text into a markdown link by
// appending "(url)", where url is template with "{}" replaced by A. Running
// it twice appends twice.
func RewriteTimestamps(text, template string) string {
	return timeRangeRe.ReplaceAllStringFunc(text, func(m string) string {
		from := timeRangeRe.FindStringSubmatch(m)[1]
		return m + "(" + strings.ReplaceAll(template, "{}", from) + ")"
	})
}
