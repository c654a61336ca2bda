package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/canary-cli/internal/browser"
	"github.com/xkilldash9x/canary-cli/internal/config"
	"github.com/xkilldash9x/canary-cli/internal/observability"
)

// -- Decision Maker Mock --

// MockDecisionMaker mocks the DecisionMaker interface.
type MockDecisionMaker struct {
	mock.Mock
}

func (m *MockDecisionMaker) Decide(ctx context.Context, req DecisionRequest) (*Decision, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Decision), args.Error(1)
}

func callDecision(name string, args map[string]any) *Decision {
	return &Decision{Call: &ToolCall{Name: name, Arguments: args}}
}

// -- Fake Browser --

// fakeDriver is an in-memory page. Elements are keyed by Selector.String().
type fakeDriver struct {
	mu         sync.Mutex
	url        string
	html       string
	elements   map[string]bool
	typed      map[string]string
	clicks     []string
	closeCount int

	// onClick runs after a successful click, with the lock released.
	onClick     func(sel browser.Selector)
	unavailable bool
	panicOnType bool
	// dropOnType makes Type fail as a closed browser, echoing the text.
	dropOnType bool
}

var _ browser.Driver = (*fakeDriver)(nil)

func newFakeDriver(url string, elements ...string) *fakeDriver {
	d := &fakeDriver{
		url:      url,
		html:     "<html><head><title>t</title></head><body><main>page</main></body></html>",
		elements: map[string]bool{},
		typed:    map[string]string{},
	}
	for _, e := range elements {
		d.elements[e] = true
	}
	return d
}

func (d *fakeDriver) check() error {
	if d.unavailable {
		return fmt.Errorf("%w: connection reset", browser.ErrDriverUnavailable)
	}
	return nil
}

func (d *fakeDriver) setURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

func (d *fakeDriver) setElement(sel string, present bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elements[sel] = present
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	d.url = url
	return nil
}

func (d *fakeDriver) CurrentURL(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, d.check()
}

func (d *fakeDriver) HTML(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.html, d.check()
}

func (d *fakeDriver) Type(_ context.Context, sel browser.Selector, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.panicOnType {
		panic("renderer crashed")
	}
	if d.dropOnType {
		return fmt.Errorf("%w: target closed during fill(%q)", browser.ErrDriverUnavailable, text)
	}
	if err := d.check(); err != nil {
		return err
	}
	if !d.elements[sel.String()] {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, sel)
	}
	d.typed[sel.String()] = text
	return nil
}

func (d *fakeDriver) Click(_ context.Context, sel browser.Selector) error {
	d.mu.Lock()
	if err := d.check(); err != nil {
		d.mu.Unlock()
		return err
	}
	if !d.elements[sel.String()] {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, sel)
	}
	d.clicks = append(d.clicks, sel.String())
	hook := d.onClick
	d.mu.Unlock()
	if hook != nil {
		hook(sel)
	}
	return nil
}

func (d *fakeDriver) Exists(_ context.Context, sel browser.Selector) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.elements[sel.String()], d.check()
}

func (d *fakeDriver) WaitFor(_ context.Context, sel browser.Selector, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(); err != nil {
		return err
	}
	if !d.elements[sel.String()] {
		return fmt.Errorf("timeout waiting for %s after %s: %w", sel, timeout, context.DeadlineExceeded)
	}
	return nil
}

func (d *fakeDriver) Screenshot(context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (d *fakeDriver) Close(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCount++
	return nil
}

// -- Fake credential source --

type staticCredentials map[string]map[string]string

func (s staticCredentials) Credentials(profile string) (map[string]string, bool) {
	fields, ok := s[profile]
	return fields, ok
}

// -- Recording observer --

type recordingObserver struct {
	mu        sync.Mutex
	steps     []Step
	terminals []Phase
	// histories holds the session history at each phase terminal.
	histories [][]Message
}

func (r *recordingObserver) RecordStep(_ context.Context, _ *Session, step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

func (r *recordingObserver) PhaseTerminal(_ context.Context, s *Session, phase Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.terminals = append(r.terminals, phase)
	r.histories = append(r.histories, s.History())
}

// -- Helpers --

func testCompactor() *Compactor {
	return NewCompactor(config.CompactionConfig{
		SnapshotHead:      100,
		SnapshotTail:      100,
		SnapshotMinLength: 300,
	}, CharCounter{})
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestLoop(decider DecisionMaker, shim *CredentialShim, opts ...LoopOption) *Loop {
	opts = append([]LoopOption{WithSleep(noSleep)}, opts...)
	return NewLoop(decider, testCompactor(), shim, observability.GetLogger(), opts...)
}
