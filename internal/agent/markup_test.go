package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanMarkup(t *testing.T) {
	raw := `<!DOCTYPE html>
<html>
<head><title>Chat</title><script src="/app.js"></script><style>body{}</style></head>
<body onload="init()">
  <!-- build 42 -->
  <script>window.secret = 1</script>
  <noscript>enable js</noscript>
  <form action="/login" method="post" style="color:red">
    <label for="email">Email</label>
    <input id="email" name="email" type="email" value="typed@example.com" data-testid="email-input" aria-label="Email">
    <input type="hidden" name="csrf" value="tok">
    <textarea name="msg" value="draft"></textarea>
    <button type="submit" class="btn primary" onclick="go()">Sign in</button>
  </form>
  <svg><path d="M0"/></svg>
  <iframe src="https://ads.example"></iframe>
  <template><p>hidden</p></template>
</body>
</html>`

	cleaned, err := CleanMarkup(raw)
	require.NoError(t, err)

	assert.Contains(t, cleaned, `<form action="/login" method="post">`)
	assert.Contains(t, cleaned, `<label for="email">Email</label>`)
	assert.Contains(t, cleaned, `<input id="email" name="email" type="email" data-testid="email-input" aria-label="Email">`)
	assert.Contains(t, cleaned, `<input type="hidden" name="csrf" value="tok">`)
	assert.Contains(t, cleaned, `<button type="submit" class="btn primary">Sign in</button>`)

	for _, gone := range []string{"<title>", "<script", "window.secret", "<style", "enable js", "build 42",
		"<svg", "<iframe", "hidden</p>", "onclick", "onload", "typed@example.com", "draft"} {
		assert.NotContains(t, cleaned, gone)
	}
	assert.True(t, len(cleaned) > 0 && cleaned[:6] == "<body>")
}

func TestCleanMarkupFragment(t *testing.T) {
	cleaned, err := CleanMarkup(`<div id="x">a   b</div>`)
	require.NoError(t, err)
	assert.Equal(t, `<body><div id="x">a b</div></body>`, cleaned)
}
