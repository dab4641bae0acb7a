// Package classifier turns raw failures into messages a user can act on.
//
// A Classifier is immutable after New and safe for concurrent use. Classify
// never panics: anything it cannot make sense of becomes the generic
// "Analysis failed" error.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/cbroglie/mustache"
	"github.com/dlclark/regexp2"
	"github.com/go-logr/logr"
)

const (
	matchTimeout = 100 * time.Millisecond

	// Messages longer than twice this keep only their head and tail, so
	// matching and display stay bounded whatever the input size.
	messageEdge = 4 << 10
	elision     = " ... "
)

// Context says where a failure happened.
type Context struct {
	Component string `json:"component,omitempty"`
	Action    string `json:"action,omitempty"`
}

// UserFacingError is the classified, display-ready form of a failure.
type UserFacingError struct {
	Title     string   `json:"title"`
	Detail    string   `json:"detail,omitempty"`
	Guidance  []string `json:"guidance"`
	Context   Context  `json:"context"`
	Category  Category `json:"category"`
	Retryable bool     `json:"retryable"`
}

func (e UserFacingError) Error() string {
	if e.Detail == "" {
		return e.Title
	}
	return e.Title + ": " + e.Detail
}

type compiledRule struct {
	re       *regexp2.Regexp
	category Category
}

type compiledTemplate struct {
	title     string
	guidance  []*mustache.Template
	retryable bool
}

// Classifier maps raw failures to UserFacingErrors.
type Classifier struct {
	extra     []Rule
	rules     []compiledRule
	templates map[Category]compiledTemplate
	log       logr.Logger
}

// Option configures a Classifier.
type Option func(c *Classifier)

// WithRules adds rules evaluated before the built-in ones.
func WithRules(rules ...Rule) Option {
	return func(c *Classifier) {
		c.extra = append(c.extra, rules...)
	}
}

// WithLogger sets the logger used to report rules that misbehave.
func WithLogger(log logr.Logger) Option {
	return func(c *Classifier) {
		c.log = log
	}
}

// New compiles the rules and guidance templates.
func New(opts ...Option) (*Classifier, error) {
	c := &Classifier{log: logr.Discard()}
	for _, opt := range opts {
		opt(c)
	}

	for _, rule := range append(append([]Rule{}, c.extra...), builtinRules...) {
		if !rule.Category.Valid() {
			return nil, fmt.Errorf("rule %q: unknown category %q", rule.Pattern, rule.Category)
		}
		re, err := regexp2.Compile(rule.Pattern, regexp2.IgnoreCase)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.Pattern, err)
		}
		re.MatchTimeout = matchTimeout
		c.rules = append(c.rules, compiledRule{re: re, category: rule.Category})
	}

	c.templates = make(map[Category]compiledTemplate, len(templates))
	for category, t := range templates {
		ct := compiledTemplate{title: t.title, retryable: t.retryable}
		for _, line := range t.guidance {
			tmpl, err := mustache.ParseString(line)
			if err != nil {
				return nil, fmt.Errorf("guidance for %s: %w", category, err)
			}
			ct.guidance = append(ct.guidance, tmpl)
		}
		c.templates[category] = ct
	}
	return c, nil
}

var defaultClassifier = mustNew()

func mustNew() *Classifier {
	c, err := New()
	if err != nil {
		panic(err)
	}
	return c
}

// Classify uses a classifier with only the built-in rules.
func Classify(raw interface{}, ctx Context) UserFacingError {
	return defaultClassifier.Classify(raw, ctx)
}

// Classify maps raw to a UserFacingError. raw may be nil, a string, an
// error, a fmt.Stringer or any other value.
func (c *Classifier) Classify(raw interface{}, ctx Context) (out UserFacingError) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error(fmt.Errorf("%v", r), "classifier panicked, using generic error")
			out = Fallback(ctx)
		}
	}()

	message, err := describe(raw)
	message = shorten(message)
	category := c.categorize(message, err)

	t, ok := c.templates[category]
	if !ok {
		return Fallback(ctx)
	}
	guidance, renderErr := c.render(t, ctx, message)
	if renderErr != nil {
		c.log.Error(renderErr, "failed to render guidance", "category", category)
		return Fallback(ctx)
	}

	return UserFacingError{
		Title:     t.title,
		Detail:    message,
		Guidance:  guidance,
		Context:   ctx,
		Category:  category,
		Retryable: t.retryable,
	}
}

// Fallback is the generic error used when classification itself fails.
func Fallback(ctx Context) UserFacingError {
	return UserFacingError{
		Title:     fallbackTitle,
		Guidance:  []string{supportHint},
		Context:   ctx,
		Category:  CategoryUnknown,
		Retryable: true,
	}
}

func (c *Classifier) render(t compiledTemplate, ctx Context, message string) ([]string, error) {
	component := ctx.Component
	if component == "" {
		component = "the client"
	}
	action := ctx.Action
	if action == "" {
		action = "run the analysis"
	}
	if message == "" {
		message = "no details were reported"
	}
	scope := map[string]string{
		"component": component,
		"action":    action,
		"message":   message,
	}

	guidance := make([]string, 0, len(t.guidance)+2)
	for _, tmpl := range t.guidance {
		line, err := tmpl.Render(scope)
		if err != nil {
			return nil, err
		}
		guidance = append(guidance, line)
	}
	if t.retryable {
		guidance = append(guidance, durationHint)
	}
	return append(guidance, supportHint), nil
}

func (c *Classifier) categorize(message string, err error) Category {
	if err != nil {
		if category, ok := typed(err); ok {
			return category
		}
	}
	if message == "" {
		return CategoryUnknown
	}
	for _, rule := range c.rules {
		matched, matchErr := rule.re.MatchString(message)
		if matchErr != nil {
			c.log.V(1).Info("rule did not finish matching", "pattern", rule.re.String(), "error", matchErr.Error())
			continue
		}
		if matched {
			return rule.category
		}
	}
	return CategoryUnknown
}

// typed recognizes errors by type before any message matching.
func typed(err error) (Category, bool) {
	switch {
	case errors.Is(err, context.Canceled):
		return CategoryCancelled, true
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout, true
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return CategoryNetwork, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout, true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CategoryNetwork, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CategoryNetwork, true
	}
	return "", false
}

func describe(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case error:
		return strings.TrimSpace(v.Error()), v
	case string:
		return strings.TrimSpace(v), nil
	case []byte:
		return strings.TrimSpace(string(v)), nil
	case fmt.Stringer:
		return strings.TrimSpace(v.String()), nil
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v)), nil
	}
}

// shorten keeps the first and last messageEdge bytes of a long message,
// cut on rune boundaries.
func shorten(message string) string {
	if len(message) <= 2*messageEdge+len(elision) {
		return message
	}
	head := messageEdge
	for head > 0 && !utf8.RuneStart(message[head]) {
		head--
	}
	tail := len(message) - messageEdge
	for tail < len(message) && !utf8.RuneStart(message[tail]) {
		tail++
	}
	return message[:head] + elision + message[tail:]
}
