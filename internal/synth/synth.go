// Package synth converts a sandbox file table into standalone viewable
// markup. It is a pure function over its input: no I/O, no state, and no
// failure mode that surfaces to the caller. Every degraded path still
// produces a renderable document.
package synth

import (
	"sort"
	"strings"
)

// Strategy identifies which heuristic produced the markup.
type Strategy string

const (
	StrategyDocument    Strategy = "document"
	StrategyFragment    Strategy = "fragment"
	StrategyEntry       Strategy = "entry"
	StrategyComponent   Strategy = "component"
	StrategyDebug       Strategy = "debug"
	StrategyListing     Strategy = "listing"
	StrategyPlaceholder Strategy = "placeholder"
)

// Result carries the synthesized markup and the winning strategy.
type Result struct {
	Markup   string
	Strategy Strategy
}

// Synthesize applies the preview heuristics in strict priority order and
// returns on the first match:
//
//  1. a complete HTML document, used verbatim with companion styles and
//     scripts injected
//  2. an HTML fragment, wrapped in a minimal standalone document
//  3. the application entry component, textually rewritten to markup
//  4. any other component-like source, same treatment
//  5. a diagnostic listing of every file when nothing above matched
//  6. a waiting placeholder when the table is empty
//
// Entries with empty content or an unresolved deferred-value marker are
// treated as not yet available and excluded up front.
func Synthesize(files map[string]string) Result {
	usable := filterUsable(files)
	if len(usable) == 0 {
		return Result{Markup: placeholderDocument(), Strategy: StrategyPlaceholder}
	}

	paths := sortedPaths(usable)
	css := companionStyles(usable, paths)
	scripts := companionScripts(usable, paths)

	if doc, ok := pickCompleteDocument(usable, paths); ok {
		return Result{
			Markup:   injectCompanions(usable[doc], css, scripts, usable),
			Strategy: StrategyDocument,
		}
	}

	if frag, ok := pickFragment(usable, paths); ok {
		return Result{
			Markup:   wrapFragment(frag, usable[frag], css, scripts, usable),
			Strategy: StrategyFragment,
		}
	}

	if res, ok := renderComponent(usable, paths, css); ok {
		return res
	}

	return Result{Markup: listingDocument(usable, paths), Strategy: StrategyListing}
}

// deferredMarker is how an unresolved promise stringifies when upstream
// forgot to await it. Such content is pending, not an error.
const deferredMarker = "[object Promise]"

func filterUsable(files map[string]string) map[string]string {
	usable := make(map[string]string, len(files))
	for path, content := range files {
		trimmed := strings.TrimSpace(content)
		if trimmed == "" || strings.HasPrefix(trimmed, deferredMarker) {
			continue
		}
		usable[path] = content
	}
	return usable
}

func sortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func ext(path string) string {
	base := baseName(path)
	if i := strings.LastIndexByte(base, '.'); i >= 0 {
		return strings.ToLower(base[i:])
	}
	return ""
}
