// Package paginate advances a browser session through listing pages using an
// ordered chain of strategies, and merges the per-page extraction payloads
// into one aggregate.
package paginate

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Outcome is the result of one strategy attempt.
type Outcome int

const (
	// Navigated means the browser now shows the target page.
	Navigated Outcome = iota
	// NotApplicable means the strategy had nothing to work with on this page.
	NotApplicable
	// Failed means the strategy tried and could not reach the next page.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Navigated:
		return "navigated"
	case NotApplicable:
		return "not_applicable"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Navigator is the subset of browser operations the strategies drive.
type Navigator interface {
	Navigate(ctx context.Context, pageURL string) error
	Click(ctx context.Context, selector string) error
	CurrentURL(ctx context.Context) (string, error)
}

// SelectorFinder locates the next-page control on a rendered page.
type SelectorFinder interface {
	FindNextSelector(ctx context.Context, pageHTML, model string) (string, error)
}

// URLLearner projects a page URL from known example URLs.
type URLLearner interface {
	LearnPaginationURL(ctx context.Context, url1, url2, url3 string, targetPage int, model string) (string, error)
}

// State carries everything the strategies need about the run in progress.
// The engine appends every attempt to Attempts so the fallback order stays
// observable after the fact.
type State struct {
	BaseURL     string // page-1 URL of the job
	ExampleURL2 string // optional caller-supplied page-2 URL
	ExampleURL3 string // optional caller-supplied page-3 URL
	Model       string // extraction model id, reused for pagination prompts

	TargetPage int    // page number the next Advance call tries to reach
	CurrentURL string // URL of the page currently rendered
	PageHTML   string // raw markup of the page currently rendered

	Attempts []Attempt
}

// Attempt records one strategy invocation.
type Attempt struct {
	Page     int
	Strategy string
	Outcome  Outcome
	Detail   string
}

// Strategy is one way of reaching the next listing page.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, nav Navigator, st *State) (Outcome, error)
}

// Engine runs the strategies in fixed priority order.
type Engine struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewEngine builds the production engine: pattern-learned URLs first, then
// next-button clicks, then URL heuristics.
func NewEngine(finder SelectorFinder, learner URLLearner, logger *slog.Logger) *Engine {
	return &Engine{
		strategies: []Strategy{
			&PatternURLStrategy{Learner: learner},
			&NextButtonStrategy{Finder: finder},
			&URLHeuristicStrategy{},
		},
		logger: logger.With("component", "paginate"),
	}
}

// NewEngineWithStrategies builds an engine over an explicit strategy chain.
func NewEngineWithStrategies(logger *slog.Logger, strategies ...Strategy) *Engine {
	return &Engine{strategies: strategies, logger: logger.With("component", "paginate")}
}

// Advance tries to reach st.TargetPage. Strategies run in order; a failure or
// inapplicable strategy falls through to the next one. Exhausting the chain
// returns false with no error, which ends pagination without failing the job.
// Every attempt is appended to st.Attempts.
func (e *Engine) Advance(ctx context.Context, nav Navigator, st *State) (bool, error) {
	for _, strat := range e.strategies {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		outcome, err := strat.Attempt(ctx, nav, st)
		record := Attempt{Page: st.TargetPage, Strategy: strat.Name(), Outcome: outcome}
		if err != nil {
			// Strategy errors demote to Failed and fall through.
			record.Outcome = Failed
			record.Detail = err.Error()
		}
		st.Attempts = append(st.Attempts, record)

		e.logger.Debug("pagination strategy attempt",
			"strategy", strat.Name(),
			"target_page", st.TargetPage,
			"outcome", record.Outcome.String(),
			"detail", record.Detail,
		)

		if record.Outcome == Navigated {
			return true, nil
		}
	}
	return false, nil
}

// PatternURLStrategy projects the target page's URL from caller-supplied
// example URLs and navigates straight to it.
type PatternURLStrategy struct {
	Learner URLLearner
}

func (s *PatternURLStrategy) Name() string { return "pattern_url" }

func (s *PatternURLStrategy) Attempt(ctx context.Context, nav Navigator, st *State) (Outcome, error) {
	if st.ExampleURL2 == "" || st.ExampleURL3 == "" {
		return NotApplicable, nil
	}

	target, err := s.Learner.LearnPaginationURL(ctx, st.BaseURL, st.ExampleURL2, st.ExampleURL3, st.TargetPage, st.Model)
	if err != nil {
		return Failed, err
	}
	if err := nav.Navigate(ctx, target); err != nil {
		return Failed, err
	}

	st.CurrentURL = target
	return Navigated, nil
}

// NextButtonStrategy asks the model for the next-page control and clicks it.
type NextButtonStrategy struct {
	Finder SelectorFinder
}

func (s *NextButtonStrategy) Name() string { return "next_button" }

func (s *NextButtonStrategy) Attempt(ctx context.Context, nav Navigator, st *State) (Outcome, error) {
	if st.PageHTML == "" {
		return NotApplicable, nil
	}

	selector, err := s.Finder.FindNextSelector(ctx, st.PageHTML, st.Model)
	if err != nil {
		return Failed, err
	}
	if selector == "" {
		return NotApplicable, nil
	}
	if err := nav.Click(ctx, selector); err != nil {
		return Failed, err
	}

	if current, err := nav.CurrentURL(ctx); err == nil {
		st.CurrentURL = current
	}
	return Navigated, nil
}

var pageSegmentPattern = regexp.MustCompile(`/page/(\d+)(/?)`)

// URLHeuristicStrategy rewrites the current URL with common pagination
// shapes: a /page/<n>/ path segment, a page query parameter, or an appended
// /page/<n>/ segment when neither exists.
type URLHeuristicStrategy struct{}

func (s *URLHeuristicStrategy) Name() string { return "url_heuristic" }

func (s *URLHeuristicStrategy) Attempt(ctx context.Context, nav Navigator, st *State) (Outcome, error) {
	current := st.CurrentURL
	if current == "" {
		current = st.BaseURL
	}

	target, err := nextPageURL(current, st.TargetPage)
	if err != nil {
		return Failed, err
	}
	if err := nav.Navigate(ctx, target); err != nil {
		return Failed, err
	}

	st.CurrentURL = target
	return Navigated, nil
}

// nextPageURL rewrites rawURL so it points at page targetPage.
func nextPageURL(rawURL string, targetPage int) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("unparseable current URL %q: %w", rawURL, err)
	}

	if pageSegmentPattern.MatchString(u.Path) {
		u.Path = pageSegmentPattern.ReplaceAllString(u.Path, fmt.Sprintf("/page/%d${2}", targetPage))
		return u.String(), nil
	}

	q := u.Query()
	if q.Has("page") {
		q.Set("page", strconv.Itoa(targetPage))
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + fmt.Sprintf("/page/%d/", targetPage)
	return u.String(), nil
}
