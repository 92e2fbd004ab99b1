package workflow

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// LaunchRod starts Chromium with go-rod's launcher and connects to it.
func LaunchRod(ctx context.Context, opts BrowserOptions) (Browser, error) {
	l := launcher.New().Context(ctx).Headless(opts.Headless)
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, err
	}
	b := rod.New().ControlURL(u).Context(ctx)
	if opts.SlowMo > 0 {
		b = b.SlowMotion(opts.SlowMo)
	}
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, err
	}
	return &rodBrowser{b: b, l: l, timeout: opts.PageTimeout}, nil
}

type rodBrowser struct {
	b       *rod.Browser
	l       *launcher.Launcher
	timeout time.Duration
}

func (r *rodBrowser) NewPage(ctx context.Context) (Page, error) {
	p, err := r.b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	return &rodPage{p: p.Context(ctx), timeout: r.timeout}, nil
}

func (r *rodBrowser) Close() error {
	err := r.b.Close()
	r.l.Cleanup()
	return err
}

type rodPage struct {
	p       *rod.Page
	timeout time.Duration
}

func (r *rodPage) Navigate(url string) error {
	return r.p.Timeout(r.timeout).Navigate(url)
}

func (r *rodPage) WaitLoad() error {
	return r.p.Timeout(r.timeout).WaitLoad()
}

func (r *rodPage) WaitAny(timeout time.Duration, selectors ...string) bool {
	deadline := time.Now().Add(timeout)
	for {
		for _, sel := range selectors {
			if _, ok := r.Find(sel); ok {
				return true
			}
		}
		if time.Now().After(deadline) || r.p.GetContext().Err() != nil {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (r *rodPage) Find(selector string) (Element, bool) {
	els, err := r.p.Elements(selector)
	if err != nil {
		return nil, false
	}
	for _, el := range els {
		if visible, err := el.Visible(); err == nil && visible {
			return &rodElement{el: el}, true
		}
	}
	return nil, false
}

func (r *rodPage) FindAll(selector string) []Element {
	els, err := r.p.Elements(selector)
	if err != nil {
		return nil
	}
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out
}

func (r *rodPage) FindByText(selector, pattern string, timeout time.Duration) (Element, bool) {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	el, err := r.p.Timeout(timeout).ElementR(selector, "/"+pattern+"/i")
	if err != nil {
		return nil, false
	}
	return &rodElement{el: el.CancelTimeout()}, true
}

func (r *rodPage) Screenshot(path string) error {
	b, err := r.p.Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func (r *rodPage) URL() string {
	info, err := r.p.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

type rodElement struct {
	el *rod.Element
}

func (r *rodElement) Click() error { return r.el.Click(proto.InputMouseButtonLeft, 1) }

func (r *rodElement) Fill(text string) error {
	if err := r.el.SelectAllText(); err != nil {
		return err
	}
	if text == "" {
		return r.el.Type(input.Backspace)
	}
	return r.el.Input(text)
}

func (r *rodElement) Type(text string) error {
	keys := make([]input.Key, 0, len(text))
	for _, c := range text {
		keys = append(keys, input.Key(c))
	}
	return r.el.Type(keys...)
}

var rodKeys = map[Key]input.Key{
	KeyEnter:     input.Enter,
	KeyTab:       input.Tab,
	KeyBackspace: input.Backspace,
}

func (r *rodElement) Press(key Key) error {
	k, ok := rodKeys[key]
	if !ok {
		return errors.New("unsupported key")
	}
	return r.el.Type(k)
}

func (r *rodElement) Text() string {
	s, err := r.el.Text()
	if err != nil {
		return ""
	}
	return s
}

func (r *rodElement) Attr(name string) string {
	v, err := r.el.Attribute(name)
	if err != nil || v == nil {
		return ""
	}
	return *v
}

func (r *rodElement) Visible() bool {
	ok, err := r.el.Visible()
	return err == nil && ok
}

func (r *rodElement) ChildText(selector string) string {
	els, err := r.el.Elements(selector)
	if err != nil || len(els) == 0 {
		return ""
	}
	s, _ := els[0].Text()
	return s
}
