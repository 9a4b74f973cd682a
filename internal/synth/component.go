package synth

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

var componentExts = map[string]bool{
	".jsx": true,
	".tsx": true,
	".js":  true,
	".ts":  true,
}

// isEntryPath reports whether path names the designated application entry
// component (App.jsx and friends, in any directory).
func isEntryPath(path string) bool {
	base := baseName(path)
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return strings.EqualFold(base, "app")
}

// componentCandidates orders candidate source files: the app entry first,
// then the remaining component-suffixed files in path order.
func componentCandidates(paths []string) []string {
	var entries, rest []string
	for _, p := range paths {
		if !componentExts[ext(p)] {
			continue
		}
		if isEntryPath(p) {
			entries = append(entries, p)
		} else {
			rest = append(rest, p)
		}
	}
	return append(entries, rest...)
}

// hasComponentSignal reports whether source text contains an extractable
// rendering expression.
func hasComponentSignal(content string) bool {
	_, ok := extractRenderExpression(content)
	return ok
}

// renderComponent walks the candidates, extracts the first rendering
// expression it can, and converts it to plain markup. A candidate that
// extracts but fails conversion degrades to a debug document rather than
// an error.
func renderComponent(files map[string]string, paths []string, css []string) (Result, bool) {
	for _, p := range componentCandidates(paths) {
		expr, ok := extractRenderExpression(files[p])
		if !ok {
			continue
		}

		markup := convertToMarkup(expr)
		if !looksLikeMarkup(markup) {
			return Result{Markup: debugDocument(p, expr, markup), Strategy: StrategyDebug}, true
		}

		strategy := StrategyComponent
		if isEntryPath(p) {
			strategy = StrategyEntry
		}
		banner := fmt.Sprintf("Static preview converted from %s", p)
		return Result{
			Markup:   buildDocument(baseName(p), stylesBlock(css, files), markup, banner),
			Strategy: strategy,
		}, true
	}
	return Result{}, false
}

var (
	reReturnInline = regexp.MustCompile(`return\s+(<[^;\n]+>)\s*;`)
	reArrowInline  = regexp.MustCompile(`=>\s*(<[^;\n]+>)`)
)

// extractRenderExpression tries an ordered set of textual patterns and
// returns the first match that starts with a tag. The simplest successful
// pattern wins.
func extractRenderExpression(content string) (string, bool) {
	for _, marker := range []string{"return (", "return("} {
		if expr, ok := balancedAfter(content, marker); ok {
			return expr, true
		}
	}
	if m := reReturnInline.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	for _, marker := range []string{"=> (", "=>("} {
		if expr, ok := balancedAfter(content, marker); ok {
			return expr, true
		}
	}
	if m := reArrowInline.FindStringSubmatch(content); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	return "", false
}

// balancedAfter captures the parenthesized expression following marker by
// counting parens. Textual only: string literals containing parens can
// defeat it, which is acceptable for a best-effort preview.
func balancedAfter(content, marker string) (string, bool) {
	idx := strings.Index(content, marker)
	if idx < 0 {
		return "", false
	}
	open := idx + len(marker) - 1 // position of "("
	depth := 1
	for i := open + 1; i < len(content); i++ {
		switch content[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				expr := strings.TrimSpace(content[open+1 : i])
				if strings.HasPrefix(expr, "<") {
					return expr, true
				}
				return "", false
			}
		}
	}
	return "", false
}

var (
	reJSXComment    = regexp.MustCompile(`(?s)\{\s*/\*.*?\*/\s*\}`)
	reStyleObject   = regexp.MustCompile(`style=\{\{(.*?)\}\}`)
	reDynamicAttr   = regexp.MustCompile(`\s[a-zA-Z][a-zA-Z0-9-]*=\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)
	reCustomSelf    = regexp.MustCompile(`<([A-Z][A-Za-z0-9]*)([^>]*?)/>`)
	reCustomOpen    = regexp.MustCompile(`<([A-Z][A-Za-z0-9]*)((?:[^>"']|"[^"]*"|'[^']*')*)>`)
	reCustomClose   = regexp.MustCompile(`</([A-Z][A-Za-z0-9]*)>`)
	reSelfClosing   = regexp.MustCompile(`<([a-z][a-z0-9]*)((?:[^>"']|"[^"]*"|'[^']*')*?)\s*/>`)
	reInterpolation = regexp.MustCompile(`\{[^{}]*\}`)
	reCamelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// convertToMarkup rewrites a JSX-ish expression into plain markup. Each
// step is a blunt textual substitution; the order matters.
func convertToMarkup(expr string) string {
	out := expr

	// 1. Drop JSX comments.
	out = reJSXComment.ReplaceAllString(out, "")

	// 2. Flatten inline style objects before generic brace handling.
	out = reStyleObject.ReplaceAllStringFunc(out, func(m string) string {
		inner := reStyleObject.FindStringSubmatch(m)[1]
		return fmt.Sprintf("style=%q", flattenStyleObject(inner))
	})

	// 3. Attribute name aliasing.
	out = strings.ReplaceAll(out, "className=", "class=")
	out = strings.ReplaceAll(out, "htmlFor=", "for=")

	// 4. Drop remaining dynamic attributes (handlers, keys, bound values).
	out = reDynamicAttr.ReplaceAllString(out, "")

	// 5. Fragments become plain containers.
	out = strings.ReplaceAll(out, "<>", "<div>")
	out = strings.ReplaceAll(out, "</>", "</div>")

	// 6. Custom components become annotated divs.
	out = reCustomSelf.ReplaceAllString(out, `<div class="component" data-component="$1"$2></div>`)
	out = reCustomOpen.ReplaceAllString(out, `<div data-component="$1"$2>`)
	out = reCustomClose.ReplaceAllString(out, "</div>")

	// 7. Expand self-closing native tags.
	out = reSelfClosing.ReplaceAllStringFunc(out, func(m string) string {
		sub := reSelfClosing.FindStringSubmatch(m)
		tag, attrs := sub[1], sub[2]
		if voidTags[tag] {
			return "<" + tag + attrs + ">"
		}
		return "<" + tag + attrs + "></" + tag + ">"
	})

	// 8. Remaining text interpolations become visible placeholders.
	out = reInterpolation.ReplaceAllString(out, `<span class="expr-placeholder">&#8230;</span>`)

	return strings.TrimSpace(out)
}

// unitless style properties never get a px suffix.
var unitlessProps = map[string]bool{
	"opacity": true, "z-index": true, "font-weight": true,
	"line-height": true, "flex": true, "order": true, "zoom": true,
}

// flattenStyleObject turns {color: 'red', fontSize: 14} body text into
// CSS declaration syntax.
func flattenStyleObject(inner string) string {
	var decls []string
	for _, part := range strings.Split(inner, ",") {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		key = strings.Trim(key, `"'`)
		key = strings.ToLower(reCamelBoundary.ReplaceAllString(key, "$1-$2"))

		val := strings.TrimSpace(kv[1])
		val = strings.Trim(val, `"'`)
		if val == "" || key == "" {
			continue
		}
		if isDigits(val) && !unitlessProps[key] {
			val += "px"
		}
		decls = append(decls, key+":"+val)
	}
	return strings.Join(decls, ";")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// looksLikeMarkup is the conversion sanity check: the rewrite must still
// resemble a tag tree.
func looksLikeMarkup(s string) bool {
	trimmed := strings.TrimSpace(s)
	return strings.HasPrefix(trimmed, "<") && strings.Contains(trimmed, ">")
}

// debugDocument shows the raw extracted expression next to the attempted
// conversion so a developer can see why the heuristic came up short.
func debugDocument(path, raw, attempted string) string {
	var body strings.Builder
	body.WriteString("<h1>Component conversion debug</h1>\n")
	fmt.Fprintf(&body, "<p>Source file: <code>%s</code></p>\n", html.EscapeString(path))
	body.WriteString("<h2>Extracted expression</h2>\n")
	fmt.Fprintf(&body, "<pre>%s</pre>\n", html.EscapeString(raw))
	body.WriteString("<h2>Attempted conversion</h2>\n")
	fmt.Fprintf(&body, "<pre>%s</pre>\n", html.EscapeString(attempted))
	return buildDocument("Conversion debug", "", body.String(), "Conversion fallback: debug view")
}
