package assistant

import "regexp"

var (
	markerOpen  = regexp.MustCompile(`<zc-(read|write|edit)\s+path="([^"]*)"\s*(/?)>`)
	markerClose = regexp.MustCompile(`</zc-(?:read|write|edit)>`)
)

var markerLabels = map[string]string{
	"read":  "📖 Reading ",
	"write": "📝 Writing ",
	"edit":  "✏️ Editing ",
}

// RewriteFileMarkers replaces file operation markers in generated text with
// readable status lines. Bodies of paired markers are kept; no file is touched.
func RewriteFileMarkers(text string) string {
	out := markerOpen.ReplaceAllStringFunc(text, func(m string) string {
		sub := markerOpen.FindStringSubmatch(m)
		return markerLabels[sub[1]] + sub[2]
	})
	return markerClose.ReplaceAllString(out, "")
}
