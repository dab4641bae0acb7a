package classifier

// Category groups failures that share a title and guidance.
type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryTimeout    Category = "timeout"
	CategoryAuth       Category = "auth"
	CategoryNotFound   Category = "not_found"
	CategoryRateLimit  Category = "rate_limit"
	CategoryServer     Category = "server"
	CategoryCancelled  Category = "cancelled"
	CategoryValidation Category = "validation"
	CategoryUnknown    Category = "unknown"
)

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{
		CategoryNetwork,
		CategoryTimeout,
		CategoryAuth,
		CategoryNotFound,
		CategoryRateLimit,
		CategoryServer,
		CategoryCancelled,
		CategoryValidation,
		CategoryUnknown,
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Rule maps messages matching Pattern to Category. Pattern is a
// case-insensitive regexp2 expression.
type Rule struct {
	Pattern  string   `yaml:"pattern" json:"pattern"`
	Category Category `yaml:"category" json:"category"`
}

// template is the presentation of one category. Guidance lines are
// mustache templates with component, action and message in scope.
type template struct {
	title     string
	guidance  []string
	retryable bool
}

var templates = map[Category]template{
	CategoryNetwork: {
		title: "Cannot reach the analysis service",
		guidance: []string{
			"Make sure the backend service is running.",
			"If the service is exposed through a Cloudflare tunnel, check that the tunnel is up.",
			"Check that no firewall or proxy blocks {{{component}}} from connecting.",
		},
		retryable: true,
	},
	CategoryTimeout: {
		title: "The analysis service did not respond in time",
		guidance: []string{
			"The request to {{{action}}} timed out.",
			"The service may be busy, try again in a few minutes.",
		},
		retryable: true,
	},
	CategoryAuth: {
		title: "Not authorized to run the analysis",
		guidance: []string{
			"Sign in again or check the access token configured for {{{component}}}.",
		},
	},
	CategoryNotFound: {
		title: "The analysis service endpoint was not found",
		guidance: []string{
			"Check the endpoint URL configured for {{{component}}}.",
		},
	},
	CategoryRateLimit: {
		title: "Too many analysis requests",
		guidance: []string{
			"Wait a moment before trying to {{{action}}} again.",
		},
		retryable: true,
	},
	CategoryServer: {
		title: "The analysis service reported an error",
		guidance: []string{
			"The server failed while trying to {{{action}}}.",
		},
		retryable: true,
	},
	CategoryCancelled: {
		title: "Analysis was cancelled",
		guidance: []string{
			"Start the analysis again when you are ready.",
		},
		retryable: true,
	},
	CategoryValidation: {
		title: "The submitted materials were rejected",
		guidance: []string{
			"Check the uploaded files and try again.",
		},
	},
	CategoryUnknown: {
		title: "Analysis failed",
		guidance: []string{
			"Try again. The error was: {{{message}}}",
		},
		retryable: true,
	},
}

// builtinRules are evaluated in order after any configured rules. Timeouts
// come before network errors so that "network timeout" is a timeout.
var builtinRules = []Rule{
	{Pattern: `\bcancel+ed\b|\baborted\b`, Category: CategoryCancelled},
	{Pattern: `time[d]?\s*out|deadline exceeded|ETIMEDOUT`, Category: CategoryTimeout},
	{Pattern: `\b429\b|rate.?limit|too many requests`, Category: CategoryRateLimit},
	{Pattern: `\b40[13]\b|unauthori[sz]ed|forbidden|invalid token|access denied`, Category: CategoryAuth},
	{Pattern: `ECONNREFUSED|ECONNRESET|connection (refused|reset)|no such host|unreachable|failed to fetch|dial tcp|\bnetwork\b|\bEOF\b`, Category: CategoryNetwork},
	{Pattern: `\b404\b|not found`, Category: CategoryNotFound},
	{Pattern: `\b5\d\d\b|internal server error|bad gateway|service unavailable`, Category: CategoryServer},
	{Pattern: `\b(400|413|415|422)\b|invalid|validation|unsupported`, Category: CategoryValidation},
}

const (
	supportHint   = "If the problem persists, contact support and include the details above."
	durationHint  = "AI analysis usually takes 3-5 minutes once it is running."
	fallbackTitle = "Analysis failed"
)
