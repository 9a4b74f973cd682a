package synth

import (
	"fmt"
	"html"
	"strings"
)

// baseStyle keeps synthesized documents readable without shipping a
// framework stylesheet.
const baseStyle = `body{font-family:system-ui,-apple-system,sans-serif;margin:0;padding:0;color:#1a1a2e;background:#fafafa}
.forgeview-banner{background:#eef2ff;border-bottom:1px solid #c7d2fe;padding:6px 16px;font-size:12px;color:#3730a3}`

// pickCompleteDocument returns the first file that is a full HTML document,
// preferring index.html over alphabetical order.
func pickCompleteDocument(files map[string]string, paths []string) (string, bool) {
	var match string
	for _, p := range paths {
		if !isCompleteDocument(files[p]) {
			continue
		}
		if baseName(p) == "index.html" {
			return p, true
		}
		if match == "" {
			match = p
		}
	}
	return match, match != ""
}

func isCompleteDocument(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype html")
}

// pickFragment returns the first markup file that is not a full document.
func pickFragment(files map[string]string, paths []string) (string, bool) {
	for _, p := range paths {
		e := ext(p)
		if e != ".html" && e != ".htm" {
			continue
		}
		if !isCompleteDocument(files[p]) {
			return p, true
		}
	}
	return "", false
}

// companionStyles returns the paths of stylesheet files in sorted order.
func companionStyles(files map[string]string, paths []string) []string {
	var out []string
	for _, p := range paths {
		if ext(p) == ".css" {
			out = append(out, p)
		}
	}
	return out
}

// companionScripts returns plain script files, excluding anything that
// looks like unconverted component source.
func companionScripts(files map[string]string, paths []string) []string {
	var out []string
	for _, p := range paths {
		if ext(p) != ".js" {
			continue
		}
		if hasComponentSignal(files[p]) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// injectCompanions splices companion styles before </head> and scripts
// before </body> of a complete document, leaving the document otherwise
// verbatim. Missing markers degrade to appending at the end.
func injectCompanions(doc string, css, scripts []string, files map[string]string) string {
	if len(css) > 0 {
		var styles strings.Builder
		for _, p := range css {
			fmt.Fprintf(&styles, "<style data-file=%q>\n%s\n</style>\n", p, files[p])
		}
		doc = insertBefore(doc, "</head>", styles.String())
	}
	if len(scripts) > 0 {
		var js strings.Builder
		for _, p := range scripts {
			fmt.Fprintf(&js, "<script data-file=%q>\n%s\n</script>\n", p, files[p])
		}
		doc = insertBefore(doc, "</body>", js.String())
	}
	return doc
}

// insertBefore splices insert ahead of the first case-insensitive match of
// marker, or appends when the marker is absent.
func insertBefore(doc, marker, insert string) string {
	idx := strings.Index(strings.ToLower(doc), marker)
	if idx < 0 {
		return doc + insert
	}
	return doc[:idx] + insert + doc[idx:]
}

// wrapFragment extracts the fragment's body content by index scanning and
// wraps it in a minimal standalone document with companions.
func wrapFragment(path, content string, css, scripts []string, files map[string]string) string {
	body := extractBodyInner(content)

	var scriptBlock strings.Builder
	for _, p := range scripts {
		fmt.Fprintf(&scriptBlock, "<script data-file=%q>\n%s\n</script>\n", p, files[p])
	}

	return buildDocument(baseName(path), stylesBlock(css, files), body+scriptBlock.String(), "")
}

// extractBodyInner slices out the content between <body...> and </body>
// when present. This is index scanning, not parsing.
func extractBodyInner(content string) string {
	lower := strings.ToLower(content)
	start := strings.Index(lower, "<body")
	if start < 0 {
		return content
	}
	open := strings.IndexByte(content[start:], '>')
	if open < 0 {
		return content
	}
	inner := content[start+open+1:]
	if end := strings.Index(strings.ToLower(inner), "</body>"); end >= 0 {
		inner = inner[:end]
	}
	return inner
}

func stylesBlock(css []string, files map[string]string) string {
	if len(css) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range css {
		fmt.Fprintf(&b, "<style data-file=%q>\n%s\n</style>\n", p, files[p])
	}
	return b.String()
}

// buildDocument assembles the minimal standalone preview document shared
// by the fragment, component and fallback paths.
func buildDocument(title, headExtras, body, banner string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(title))
	fmt.Fprintf(&b, "<style>%s</style>\n", baseStyle)
	b.WriteString(headExtras)
	b.WriteString("</head>\n<body>\n")
	if banner != "" {
		fmt.Fprintf(&b, "<div class=\"forgeview-banner\">%s</div>\n", html.EscapeString(banner))
	}
	b.WriteString(body)
	b.WriteString("\n</body>\n</html>\n")
	return b.String()
}

// listingDocument renders every file's path with a truncated content
// preview. It is clearly marked as a fallback, never blank.
func listingDocument(files map[string]string, paths []string) string {
	var body strings.Builder
	fmt.Fprintf(&body, "<h1>Generated files</h1>\n<p>%d file(s) received; no renderable entry point was recognized.</p>\n", len(paths))
	for _, p := range paths {
		preview := files[p]
		if len(preview) > 400 {
			preview = preview[:400] + "\n..."
		}
		fmt.Fprintf(&body, "<details open>\n<summary><code>%s</code></summary>\n<pre>%s</pre>\n</details>\n",
			html.EscapeString(p), html.EscapeString(preview))
	}
	return buildDocument("Preview fallback", "", body.String(), "Fallback preview: raw file listing")
}

// placeholderDocument is returned for an empty table so the preview pane
// is never blank.
func placeholderDocument() string {
	body := `<div style="display:flex;align-items:center;justify-content:center;height:80vh;flex-direction:column">
<h1>Waiting for agents</h1>
<p>No files have been delivered yet. The preview will update as work arrives.</p>
</div>`
	return buildDocument("Waiting for input", "", body, "")
}
