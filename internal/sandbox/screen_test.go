package sandbox

import (
	"strings"
	"testing"

	"github.com/rendis/dataflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreen_DeniedConstructs(t *testing.T) {
	cases := map[string]string{
		"eval":           `function process(d){ return eval("d"); }`,
		"new Function":   `var f = new Function("return 1");`,
		"Function call":  `var f = Function("return 1");`,
		"setTimeout":     `setTimeout(function(){}, 10);`,
		"setInterval":    `setInterval(x, 1)`,
		"require":        `var fs = require("fs");`,
		"dynamic import": `import("x").then(m => m)`,
		"static import":  "import fs from 'fs'\nfunction main(d){return d}",
		"process.":       `process.exit(1)`,
		"globalThis":     `globalThis.x = 1`,
		"window":         `window.alert(1)`,
		"document":       `document.cookie`,
		"localStorage":   `localStorage.getItem("k")`,
		"fetch":          `fetch("http://x")`,
		"XMLHttpRequest": `new XMLHttpRequest()`,
		"WebSocket":      `new WebSocket("ws://x")`,
		"Worker":         `new Worker("w.js")`,
		"__proto__":      `({}).__proto__.polluted = 1`,
	}
	for name, code := range cases {
		t.Run(name, func(t *testing.T) {
			err := Screen(code)
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeCodeSafety, schema.ErrorCode(err))
		})
	}
}

func TestScreen_AllowsOrdinaryCode(t *testing.T) {
	code := `
function process(data) {
  // rows with a positive amount
  var out = [];
  for (var i = 0; i < data.rows.length; i++) {
    if (data.rows[i][1] > 0) out.push({ id: data.rows[i][0], evaluation: "ok" });
  }
  return out;
}`
	assert.NoError(t, Screen(code))
}

func TestScreen_LoopCeilings(t *testing.T) {
	assert.NoError(t, Screen(strings.Repeat("while (false) {}\n", MaxWhileLoops)))
	assert.NoError(t, Screen(strings.Repeat("for (;false;) {}\n", MaxForLoops)))

	err := Screen(strings.Repeat("while (false) {}\n", MaxWhileLoops+1))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCodeSafety, schema.ErrorCode(err))

	err = Screen(strings.Repeat("for (;false;) {}\n", MaxForLoops+1))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCodeSafety, schema.ErrorCode(err))
}
