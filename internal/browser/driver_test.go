// internal/browser/driver_test.go
package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/canary-cli/internal/config"
)

func TestParseBy(t *testing.T) {
	tests := []struct {
		in   string
		want By
	}{
		{"", ByCSS},
		{"css", ByCSS},
		{" ID ", ByID},
		{"name", ByName},
		{"XPath", ByXPath},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBy(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseBy("link_text")
	assert.ErrorIs(t, err, ErrUnsupportedSelector)
}

func TestSelectorTranslation(t *testing.T) {
	t.Run("css equivalents", func(t *testing.T) {
		css, ok := Selector{Value: "#login", By: ByCSS}.cssEquivalent()
		assert.True(t, ok)
		assert.Equal(t, "#login", css)

		css, ok = Selector{Value: "email", By: ByID}.cssEquivalent()
		assert.True(t, ok)
		assert.Equal(t, `[id="email"]`, css)

		css, ok = Selector{Value: "pass\"word", By: ByName}.cssEquivalent()
		assert.True(t, ok)
		assert.Equal(t, `[name="pass\"word"]`, css)

		_, ok = Selector{Value: "//button", By: ByXPath}.cssEquivalent()
		assert.False(t, ok)
	})

	t.Run("playwright engine prefixes", func(t *testing.T) {
		got, err := playwrightSelector(Selector{Value: "//button[@type='submit']", By: ByXPath})
		require.NoError(t, err)
		assert.Equal(t, "xpath=//button[@type='submit']", got)

		got, err = playwrightSelector(Selector{Value: "email", By: ByID})
		require.NoError(t, err)
		assert.Equal(t, `css=[id="email"]`, got)

		_, err = playwrightSelector(Selector{Value: "x", By: "link"})
		assert.ErrorIs(t, err, ErrUnsupportedSelector)
	})

	t.Run("chromedp query options", func(t *testing.T) {
		q, opts, err := queryOptions(Selector{Value: "//a", By: ByXPath})
		require.NoError(t, err)
		assert.Equal(t, "//a", q)
		assert.Len(t, opts, 1)

		_, _, err = queryOptions(Selector{Value: "x", By: "link"})
		assert.ErrorIs(t, err, ErrUnsupportedSelector)
	})

	assert.Equal(t, "css=button", CSS("button").String())
}

func TestSplitFlag(t *testing.T) {
	name, value := splitFlag("--lang=en-GB")
	assert.Equal(t, "lang", name)
	assert.Equal(t, "en-GB", value)

	name, value = splitFlag("--mute-audio")
	assert.Equal(t, "mute-audio", name)
	assert.Equal(t, true, value)
}

func TestPrepareLaunchOptions(t *testing.T) {
	opts := prepareLaunchOptions(config.BrowserConfig{Headless: true, Args: []string{"--lang=en"}})
	require.NotNil(t, opts.Headless)
	assert.True(t, *opts.Headless)
	assert.Equal(t, []string{"--disable-gpu", "--no-sandbox", "--disable-dev-shm-usage", "--lang=en"}, opts.Args)
}

func TestTimeoutFor(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	got := timeoutFor(ctx, time.Minute)
	require.NotNil(t, got)
	assert.LessOrEqual(t, *got, float64(2000))

	got = timeoutFor(t.Context(), 3*time.Second)
	assert.Equal(t, float64(3000), *got)
}

// pwLocator lets countLocator embed playwright.Locator without the embedded
// field name colliding with the interface's own Locator method.
type pwLocator = playwright.Locator

// countLocator answers Count; every other Locator method is left nil.
type countLocator struct {
	pwLocator
	n   int
	err error
}

func (l countLocator) Count() (int, error) { return l.n, l.err }

type locatorPage struct {
	n       int
	err     error
	queries []string
}

func (p *locatorPage) Locator(selector string, _ ...playwright.PageLocatorOptions) playwright.Locator {
	p.queries = append(p.queries, selector)
	return countLocator{n: p.n, err: p.err}
}

func TestLocatorExists(t *testing.T) {
	page := &locatorPage{n: 2}
	found, err := locatorExists(page, "css=#login")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"css=#login"}, page.queries)

	page.n = 0
	found, err = locatorExists(page, "css=#missing")
	require.NoError(t, err)
	assert.False(t, found)

	page.err = errors.New("Target closed")
	_, err = locatorExists(page, "css=#login")
	assert.ErrorContains(t, err, "Target closed")
}
