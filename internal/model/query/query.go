package query

// Finding codes produced by the SQL safety validator.
const (
	FindingEmptyStatement     = "EMPTY_STATEMENT"
	FindingMultipleStatements = "MULTIPLE_STATEMENTS"
	FindingNotSelect          = "NOT_SELECT"
	FindingPlaceholderSyntax  = "PLACEHOLDER_SYNTAX"
	FindingExplainFailed      = "EXPLAIN_FAILED"
)

// Finding is one structured validation rejection reason. The orchestrator keys
// retry decisions off Code; Detail carries the engine or token context.
type Finding struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// ValidatedQuery is the immutable artifact of one validation attempt. A new
// finalize attempt produces a new ValidatedQuery.
type ValidatedQuery struct {
	Raw          string    `json:"raw"`
	Sanitized    string    `json:"sanitized"`
	AppliedLimit int       `json:"appliedLimit"`
	Findings     []Finding `json:"findings,omitempty"`
}

// Accepted reports whether the query passed every check.
func (v ValidatedQuery) Accepted() bool {
	return len(v.Findings) == 0
}

// FuzzyMatch is one candidate returned by approximate name search.
type FuzzyMatch struct {
	Candidate  string  `json:"candidate"`
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// Result holds the rows of an executed query in column order.
type Result struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}
