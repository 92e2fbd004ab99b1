package workflow

import (
	"context"
	"time"
)

// Browser is a running browser session.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is the part of a browser tab the workflow needs. Find methods never
// wait; WaitAny and FindByText poll until their timeout.
type Page interface {
	Navigate(url string) error
	WaitLoad() error
	WaitAny(timeout time.Duration, selectors ...string) bool
	// Find returns the first visible element matching selector.
	Find(selector string) (Element, bool)
	FindAll(selector string) []Element
	// FindByText returns the first element under selector whose text
	// matches pattern case-insensitively.
	FindByText(selector, pattern string, timeout time.Duration) (Element, bool)
	Screenshot(path string) error
	URL() string
}

// Element is one DOM node.
type Element interface {
	Click() error
	// Fill replaces the current value.
	Fill(text string) error
	// Type sends key presses one by one, for inputs that ignore paste.
	Type(text string) error
	Press(key Key) error
	// Text is the input value for form controls and innerText otherwise.
	Text() string
	Attr(name string) string
	Visible() bool
	// ChildText returns the text of the first descendant matching selector.
	ChildText(selector string) string
}

type Key int

const (
	KeyEnter Key = iota
	KeyTab
	KeyBackspace
)

// LaunchFunc starts a browser.
type LaunchFunc func(ctx context.Context, opts BrowserOptions) (Browser, error)

type BrowserOptions struct {
	Headless    bool
	SlowMo      time.Duration
	PageTimeout time.Duration
	Bin         string // browser executable; empty lets the launcher find or download one
}
