package sandbox

import (
	"regexp"

	"github.com/rendis/dataflow/pkg/schema"
)

// Loop-count ceilings for the static screen.
const (
	MaxWhileLoops = 5
	MaxForLoops   = 10
)

type deniedPattern struct {
	re     *regexp.Regexp
	reason string
}

// deniedPatterns is matched against raw source before anything runs. It is a
// lexical screen only; the interpreter's stripped global scope is the actual
// boundary.
var deniedPatterns = []deniedPattern{
	{regexp.MustCompile(`\beval\s*\(`), "dynamic code evaluation (eval)"},
	{regexp.MustCompile(`\bnew\s+Function\b|\bFunction\s*\(`), "dynamic code evaluation (Function)"},
	{regexp.MustCompile(`\bsetTimeout\b`), "timers (setTimeout)"},
	{regexp.MustCompile(`\bsetInterval\b`), "timers (setInterval)"},
	{regexp.MustCompile(`\bsetImmediate\b`), "timers (setImmediate)"},
	{regexp.MustCompile(`\brequire\s*\(`), "module loading (require)"},
	{regexp.MustCompile(`\bimport\s*\(|(?m)^\s*import\s`), "module loading (import)"},
	{regexp.MustCompile(`\bprocess\s*\.`), "process object access"},
	{regexp.MustCompile(`\bglobal\s*\.`), "global object access"},
	{regexp.MustCompile(`\bglobalThis\b`), "global object access (globalThis)"},
	{regexp.MustCompile(`\bwindow\b`), "browser global access (window)"},
	{regexp.MustCompile(`\bdocument\b`), "browser global access (document)"},
	{regexp.MustCompile(`\blocalStorage\b`), "storage access (localStorage)"},
	{regexp.MustCompile(`\bsessionStorage\b`), "storage access (sessionStorage)"},
	{regexp.MustCompile(`\bfetch\s*\(`), "network access (fetch)"},
	{regexp.MustCompile(`\bXMLHttpRequest\b`), "network access (XMLHttpRequest)"},
	{regexp.MustCompile(`\bWebSocket\b`), "network access (WebSocket)"},
	{regexp.MustCompile(`\bnew\s+Worker\b`), "worker construction"},
	{regexp.MustCompile(`\bSharedWorker\b`), "worker construction (SharedWorker)"},
	{regexp.MustCompile(`\bimportScripts\b`), "module loading (importScripts)"},
	{regexp.MustCompile(`__proto__`), "prototype mutation (__proto__)"},
}

var (
	whileRe = regexp.MustCompile(`\bwhile\s*\(`)
	forRe   = regexp.MustCompile(`\bfor\s*\(`)
)

// Screen statically checks user code. Any match fails with
// CODE_SAFETY_VALIDATION_FAILED; nothing is executed.
func Screen(code string) error {
	var violations []string
	for _, p := range deniedPatterns {
		if p.re.MatchString(code) {
			violations = append(violations, p.reason)
		}
	}
	if len(violations) > 0 {
		return schema.NewErrorf(schema.ErrCodeCodeSafety,
			"code contains disallowed construct: %s", violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	whiles := len(whileRe.FindAllStringIndex(code, -1))
	fors := len(forRe.FindAllStringIndex(code, -1))
	if whiles > MaxWhileLoops || fors > MaxForLoops {
		return schema.NewErrorf(schema.ErrCodeCodeSafety,
			"code has too many loops (%d while, %d for); limits are %d while and %d for",
			whiles, fors, MaxWhileLoops, MaxForLoops).
			WithDetails(map[string]any{"while": whiles, "for": fors})
	}
	return nil
}
