package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/loykin/themerig/internal/rounds"
)

// Step names reported in Result.FailedStep.
const (
	StepNavigate = "navigate"
	StepLogin    = "login"
	StepCreate   = "open_create_form"
	StepFill     = "fill_form"
	StepSave     = "save"
)

var (
	usernameSelectors = []string{
		`input[name="username"]`,
		`input[id="username"]`,
		`input[type="text"]`,
		`input[placeholder*="name" i]`,
	}
	submitSelectors = []string{`button[type="submit"]`}
	submitTexts     = "login|sign in"
	createSelectors = []string{
		`button[aria-label="Add"]`,
		`button[data-role="button"][aria-label*="Add"]`,
	}
	createTexts   = []string{"+", "add", "new", "create", "hinzufügen", "neu"}
	saveSelectors = []string{`[data-testid="save-button"]`, `button[type="submit"]`}
	saveTexts     = "save|submit"
)

type BrowserConfig struct {
	FrontendURL  string
	Username     string
	Password     string
	ArtifactsDir string // per-target directories live below this
	Browser      BrowserOptions
}

// BrowserRunner is the Runner backed by a real browser.
type BrowserRunner struct {
	cfg    BrowserConfig
	launch LaunchFunc
	faker  *gofakeit.Faker
	log    *slog.Logger
	// pause is the settle delay between UI actions. Tests replace it.
	pause func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

// NewBrowserRunner returns a runner that drives Chromium through go-rod.
func NewBrowserRunner(cfg BrowserConfig, log *slog.Logger) *BrowserRunner {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Browser.PageTimeout <= 0 {
		cfg.Browser.PageTimeout = 10 * time.Second
	}
	return &BrowserRunner{
		cfg:    cfg,
		launch: LaunchRod,
		faker:  gofakeit.New(0),
		log:    log,
		pause:  sleepCtx,
		now:    time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run opens a fresh browser, walks the click path and closes the browser.
// Screenshots are ROUND<round>_01..04.png in <ArtifactsDir>/<target>.
func (r *BrowserRunner) Run(ctx context.Context, target string, round int) (Result, error) {
	dir := filepath.Join(r.cfg.ArtifactsDir, target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create artifact dir: %w", err)
	}

	b, err := r.launch(ctx, r.cfg.Browser)
	if err != nil {
		return Result{}, fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			r.log.Warn("closing browser failed", "error", err)
		}
	}()
	page, err := b.NewPage(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("open page: %w", err)
	}
	run := &session{r: r, ctx: ctx, page: page, target: target, round: round, dir: dir}
	res := run.walk()
	r.log.Info("workflow finished",
		"target", target, "round", round,
		"success", res.Success, "artifacts", len(res.Artifacts), "failed_step", res.FailedStep)
	return res, nil
}

// session is one walk through the UI.
type session struct {
	r         *BrowserRunner
	ctx       context.Context
	page      Page
	target    string
	round     int
	dir       string
	artifacts []string
}

func (s *session) done(success bool, failed string) Result {
	return Result{Success: success, Artifacts: s.artifacts, FailedStep: failed}
}

func (s *session) walk() Result {
	if !s.navigate() {
		return s.done(false, StepNavigate)
	}
	s.capture(1)

	loggedIn := s.login()
	s.r.pause(s.ctx, time.Second)
	s.capture(2)
	if !loggedIn {
		// keep what we have; the login page screenshots are still useful
		s.r.log.Error("login failed, returning partial screenshots", "target", s.target)
		return s.done(true, StepLogin)
	}

	s.r.pause(s.ctx, 1500*time.Millisecond)
	s.selectTheme()

	if !s.openCreateForm() {
		s.r.log.Warn("could not open create form, returning partial screenshots", "target", s.target)
		return s.done(true, StepCreate)
	}
	if !s.fillForm(NewPerson(s.r.faker, s.r.now())) {
		return s.done(false, StepFill)
	}
	s.r.pause(s.ctx, 500*time.Millisecond)
	s.capture(3)

	if !s.save() {
		return s.done(false, StepSave)
	}
	s.r.pause(s.ctx, 500*time.Millisecond)
	s.capture(4)
	return s.done(true, "")
}

func (s *session) capture(step int) {
	if s.ctx.Err() != nil {
		return
	}
	path := rounds.ArtifactPath(s.dir, s.round, step, "png")
	if err := s.page.Screenshot(path); err != nil {
		s.r.log.Error("screenshot failed", "path", path, "error", err)
		return
	}
	s.r.log.Info("screenshot saved", "path", path)
	s.artifacts = append(s.artifacts, path)
}

func (s *session) navigate() bool {
	url := s.r.cfg.FrontendURL
	s.r.log.Info("navigating", "url", url)
	if err := s.page.Navigate(url); err != nil {
		s.r.log.Error("navigation failed", "url", url, "error", err)
		return false
	}
	timeout := s.r.cfg.Browser.PageTimeout
	if !s.page.WaitAny(timeout, `input[type="text"]`, `input[type="password"]`) &&
		!s.page.WaitAny(timeout, `#root > *`) {
		s.r.log.Error("app did not render", "url", url)
		return false
	}
	s.r.pause(s.ctx, 1500*time.Millisecond)
	return true
}

func (s *session) login() bool {
	s.r.pause(s.ctx, time.Second)
	user, ok := s.first(usernameSelectors)
	if !ok {
		s.r.log.Error("username field not found")
		return false
	}
	pass, ok := s.page.Find(`input[type="password"]`)
	if !ok {
		s.r.log.Error("password field not found")
		return false
	}
	if err := user.Fill(s.r.cfg.Username); err != nil {
		s.r.log.Error("filling username failed", "error", err)
		return false
	}
	if err := pass.Fill(s.r.cfg.Password); err != nil {
		s.r.log.Error("filling password failed", "error", err)
		return false
	}

	submit, ok := s.first(submitSelectors)
	if !ok {
		submit, ok = s.page.FindByText("button", submitTexts, 0)
	}
	var err error
	if ok {
		err = submit.Click()
	} else {
		err = pass.Press(KeyEnter)
	}
	if err != nil {
		s.r.log.Error("submitting login failed", "error", err)
		return false
	}
	if err := s.page.WaitLoad(); err != nil {
		s.r.log.Error("page did not load after login", "error", err)
		return false
	}
	s.r.pause(s.ctx, 1500*time.Millisecond)
	s.r.log.Info("login complete", "url", s.page.URL())
	return true
}

// selectTheme is best effort; the run continues whatever happens.
func (s *session) selectTheme() {
	var button Element
	for _, b := range s.page.FindAll("button.header-trigger") {
		if strings.TrimSpace(b.ChildText(`i span[aria-hidden]`)) == "palette" && b.Visible() {
			button = b
			break
		}
	}
	if button == nil {
		s.r.log.Warn("theme selector not found, continuing", "target", s.target)
		return
	}
	if err := button.Click(); err != nil {
		s.r.log.Warn("opening theme menu failed, continuing", "error", err)
		return
	}
	s.r.pause(s.ctx, time.Second)
	option, ok := s.page.FindByText("*", s.target, 2*time.Second)
	if !ok {
		s.r.log.Warn("theme not listed in menu, continuing", "target", s.target)
		return
	}
	if err := option.Click(); err != nil {
		s.r.log.Warn("selecting theme failed, continuing", "target", s.target, "error", err)
		return
	}
	s.r.pause(s.ctx, time.Second)
	s.r.log.Info("theme selected", "target", s.target)
}

func (s *session) openCreateForm() bool {
	s.r.pause(s.ctx, time.Second)
	button, ok := s.first(createSelectors)
	if !ok {
		button, ok = s.findByWords("button, a.button, a[role=\"button\"]", createTexts)
	}
	if !ok {
		return false
	}
	if err := button.Click(); err != nil {
		s.r.log.Error("clicking create failed", "error", err)
		return false
	}
	if err := s.page.WaitLoad(); err != nil {
		s.r.log.Error("create form did not load", "error", err)
		return false
	}
	return true
}

func (s *session) fillForm(p Person) bool {
	s.r.pause(s.ctx, 2*time.Second)
	s.r.log.Info("filling form", "first_name", p.FirstName, "last_name", p.LastName, "dob", p.DateOfBirth)

	filled := 0
	fields := p.fields()
	for _, f := range fields {
		sel := fmt.Sprintf(`input[id^="%s"]`, f.idPrefix)
		if !s.page.WaitAny(5*time.Second, sel) {
			s.r.log.Warn("field not found", "field", f.idPrefix)
			continue
		}
		el, ok := s.page.Find(sel)
		if !ok {
			continue
		}
		if err := s.fillField(el, f); err != nil {
			s.r.log.Warn("filling field failed", "field", f.idPrefix, "error", err)
			continue
		}
		got := el.Text()
		if got == f.value || ((f.date || el.Attr("type") == "date") && got != "") {
			filled++
		} else {
			s.r.log.Warn("field value mismatch", "field", f.idPrefix, "want", f.value, "got", got)
		}
	}
	s.r.log.Info("form filled", "filled", filled, "total", len(fields))
	return filled > 0
}

func (s *session) fillField(el Element, f formField) error {
	if err := el.Click(); err != nil {
		return err
	}
	if !f.date && el.Attr("type") != "date" {
		return el.Fill(f.value)
	}
	// date widgets only react to real key presses
	if err := el.Fill(""); err != nil {
		return err
	}
	if err := el.Type(f.value); err != nil {
		return err
	}
	return el.Press(KeyTab)
}

func (s *session) save() bool {
	button, ok := s.page.FindByText("button", saveTexts, 0)
	if !ok {
		button, ok = s.first(saveSelectors)
	}
	var err error
	if ok {
		err = button.Click()
	} else if input, found := s.page.Find("input"); found {
		err = input.Press(KeyEnter)
	} else {
		s.r.log.Error("no save button or input to submit")
		return false
	}
	if err != nil {
		s.r.log.Error("saving failed", "error", err)
		return false
	}
	s.r.pause(s.ctx, 2*time.Second)
	if err := s.page.WaitLoad(); err != nil {
		s.r.log.Error("list did not load after save", "error", err)
		return false
	}
	return true
}

func (s *session) first(selectors []string) (Element, bool) {
	for _, sel := range selectors {
		if el, ok := s.page.Find(sel); ok {
			return el, true
		}
	}
	return nil, false
}

func (s *session) findByWords(selector string, words []string) (Element, bool) {
	for _, el := range s.page.FindAll(selector) {
		if !el.Visible() {
			continue
		}
		text := strings.ToLower(strings.TrimSpace(el.Text()))
		if text == "" {
			continue
		}
		for _, w := range words {
			if strings.Contains(text, w) {
				s.r.log.Info("using create button", "text", text)
				return el, true
			}
		}
	}
	return nil, false
}
