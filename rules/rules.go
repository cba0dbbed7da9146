//go:build ruleguard

// Package gorules contains SafeTrack linting rules for golangci-lint via ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo flags the manual Add/Done goroutine pattern.
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    work()
//	}()
//
// becomes
//
//	wg.Go(work)
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`go func() { defer $wg.Done(); $*_ }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) instead of go func() { defer $wg.Done(); ... }()").
		Suggest("$wg.Go(func() { $*_ })")

	m.Match(`$wg.Add(1)`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("use $wg.Go() which calls Add(1) itself")
}

// TimeLayoutConstants flags layouts that have a named constant
func TimeLayoutConstants(m dsl.Matcher) {
	m.Match(`$t.Format("2006-01-02 15:04:05")`).
		Report(`use $t.Format(time.DateTime)`).
		Suggest(`$t.Format(time.DateTime)`)

	m.Match(`$t.Format("2006-01-02")`).
		Report(`use $t.Format(time.DateOnly)`).
		Suggest(`$t.Format(time.DateOnly)`)

	m.Match(`$t.Format("15:04:05")`).
		Report(`use $t.Format(time.TimeOnly)`).
		Suggest(`$t.Format(time.TimeOnly)`)
}

// LoggerErrorField flags errors logged as plain strings. logger.Error keeps
// the error value so the handler can scrub it.
func LoggerErrorField(m dsl.Matcher) {
	m.Import("github.com/safetrack/safetrack/internal/logger")

	m.Match(`logger.String($key, $err.Error())`).
		Where(m["err"].Type.Implements("error")).
		Report("use logger.Error($err) instead of logger.String($key, $err.Error())").
		Suggest("logger.Error($err)")
}

// PlainErrorText flags the stdlib errors.New in packages that import the
// internal errors package, where New wraps an existing error.
func PlainErrorText(m dsl.Matcher) {
	m.Import("github.com/safetrack/safetrack/internal/errors")

	m.Match(`errors.New($s)`).
		Where(m["s"].Type.Is("string") && m.File().Imports("github.com/safetrack/safetrack/internal/errors")).
		Report("use errors.NewStd($s) for plain text or errors.Newf(...).Build() for a categorized error")
}

// FlatEarthDistance flags planar distance on coordinates. Radii are meters;
// use geo.Distance.
func FlatEarthDistance(m dsl.Matcher) {
	m.Match(
		`math.Hypot($a.Latitude-$b.Latitude, $a.Longitude-$b.Longitude)`,
		`math.Sqrt(($a.Latitude-$b.Latitude)*($a.Latitude-$b.Latitude) + ($a.Longitude-$b.Longitude)*($a.Longitude-$b.Longitude))`,
	).
		Report("degrees are not meters; use geo.Distance($a, $b)")
}

// TestingContext flags background contexts in tests; t.Context is cancelled
// when the test ends.
func TestingContext(m dsl.Matcher) {
	m.Match(
		`$ctx := context.Background()`,
		`$ctx := context.TODO()`,
	).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("in tests, use t.Context() so goroutines see the test end")
}
