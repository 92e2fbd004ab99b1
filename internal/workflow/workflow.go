// Package workflow drives the UI click path that produces screenshots for a
// target: login, theme selection, record creation, save.
package workflow

import (
	"context"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// Steps is the number of screenshots a complete run produces.
const Steps = 4

// Result is what a run produced. Artifacts are absolute paths in capture
// order. Success may be true with fewer than Steps artifacts when the run
// stopped early at a point that still yields useful screenshots.
type Result struct {
	Success    bool     `json:"success"`
	Artifacts  []string `json:"artifacts"`
	FailedStep string   `json:"failed_step,omitempty"`
}

// Runner runs the workflow for target and names artifacts after round. An
// error means the run could not be attempted at all (for example the browser
// failed to launch); step failures are reported through Result.
type Runner interface {
	Run(ctx context.Context, target string, round int) (Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, target string, round int) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, target string, round int) (Result, error) {
	return f(ctx, target, round)
}

// Person is the record typed into the create form.
type Person struct {
	FirstName    string
	LastName     string
	Email        string
	DateOfBirth  string // YYYY-MM-DD
	PlaceOfBirth string
	Nationality  string
}

// NewPerson generates an adult aged 18 to 80 relative to now.
func NewPerson(f *gofakeit.Faker, now time.Time) Person {
	dob := f.DateRange(now.AddDate(-80, 0, 0), now.AddDate(-18, 0, 0))
	return Person{
		FirstName:    f.FirstName(),
		LastName:     f.LastName(),
		Email:        f.Email(),
		DateOfBirth:  dob.Format(time.DateOnly),
		PlaceOfBirth: f.City(),
		Nationality:  f.Country(),
	}
}

// fields pairs an input id prefix with the value that goes in it.
func (p Person) fields() []formField {
	return []formField{
		{"a12-FirstName", p.FirstName, false},
		{"a12-LastName", p.LastName, false},
		{"a12-EmailAddress", p.Email, false},
		{"a12-DateOfBirth", p.DateOfBirth, true},
		{"a12-PlaceOfBirth", p.PlaceOfBirth, false},
		{"a12-Nationality", p.Nationality, false},
	}
}

type formField struct {
	idPrefix string
	value    string
	date     bool
}
