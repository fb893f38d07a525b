package agent

import (
	"github.com/cloudwego/eino/schema"
)

// Tool names of the fixed schema offered to the reasoning model.
const (
	ToolSearchParameterNames = "search_parameter_names"
	ToolSearchAnalyteNames   = "search_analyte_names"
	ToolRunExploratoryQuery  = "run_exploratory_query"
	ToolFinalizeQuery        = "finalize_query"
)

// fuzzySearchArgs are the arguments of both name-search tools.
type fuzzySearchArgs struct {
	Term      string   `json:"term"`
	Limit     int      `json:"limit,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// exploratoryArgs carry one mid-loop inspection query.
type exploratoryArgs struct {
	SQL string `json:"sql"`
}

// finalizeArgs commit the model to its final query and rendering shape.
type finalizeArgs struct {
	SQL         string `json:"sql"`
	Explanation string `json:"explanation,omitempty"`
	Display     string `json:"display,omitempty"`
	Title       string `json:"title,omitempty"`
}

// Tools returns the fixed tool schema. The schema never varies per turn; the
// model's only degrees of freedom are the arguments.
func Tools() []*schema.ToolInfo {
	fuzzyParams := func(what string) *schema.ParamsOneOf {
		return schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"term": {
				Type:     schema.String,
				Desc:     "the noisy " + what + " name to match approximately",
				Required: true,
			},
			"limit": {
				Type: schema.Integer,
				Desc: "maximum number of candidates to return",
			},
			"threshold": {
				Type: schema.Number,
				Desc: "minimum similarity score in [0,1]; candidates below it are excluded",
			},
		})
	}

	return []*schema.ToolInfo{
		{
			Name:        ToolSearchParameterNames,
			Desc:        "Approximate search over canonical lab parameter names. Use before writing SQL so you filter on real names.",
			ParamsOneOf: fuzzyParams("parameter"),
		},
		{
			Name:        ToolSearchAnalyteNames,
			Desc:        "Approximate search over canonical analyte names.",
			ParamsOneOf: fuzzyParams("analyte"),
		},
		{
			Name: ToolRunExploratoryQuery,
			Desc: "Run a read-only SELECT to inspect data before finalizing. Results are row-limited.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"sql": {
					Type:     schema.String,
					Desc:     "a single SELECT statement with literal values only; no bind placeholders",
					Required: true,
				},
			}),
		},
		{
			Name: ToolFinalizeQuery,
			Desc: "Commit to the final SELECT that answers the user's question. Call this exactly once when you are confident.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"sql": {
					Type:     schema.String,
					Desc:     "a single SELECT statement with literal values only; no bind placeholders",
					Required: true,
				},
				"explanation": {
					Type: schema.String,
					Desc: "one or two sentences describing what the query returns",
				},
				"display": {
					Type: schema.String,
					Desc: "how the client should render the rows",
					Enum: []string{"plot", "table"},
				},
				"title": {
					Type: schema.String,
					Desc: "short human-readable title for the plot or table",
				},
			}),
		},
	}
}
