package sqlguard

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rudnitski/HealthUp-sub005/internal/model/query"
)

// Explainer runs a non-mutating syntax/plan check against sanitized SQL.
// Production wires the Postgres EXPLAIN pass from the datastore; tests inject
// fakes.
type Explainer interface {
	Explain(ctx context.Context, sql string) error
}

// Validator is the last line of defense before model-generated SQL touches
// real data. Checks run in a fixed order: statement shape, bind placeholders,
// trailing-comment stripping, clamp-down limit enforcement, executability.
type Validator struct {
	explainer Explainer
}

// NewValidator returns a validator. A nil explainer skips the executability
// check, which is only appropriate in tests.
func NewValidator(explainer Explainer) *Validator {
	return &Validator{explainer: explainer}
}

// Validate inspects raw SQL and produces an immutable ValidatedQuery. The
// applied limit is clamped down to maxLimit and never widened; re-validating
// accepted output is a no-op.
func (v *Validator) Validate(ctx context.Context, raw string, maxLimit int) query.ValidatedQuery {
	vq := inspect(raw, maxLimit)
	if !vq.Accepted() || v.explainer == nil {
		return vq
	}

	if err := v.explainer.Explain(ctx, vq.Sanitized); err != nil {
		vq.Findings = append(vq.Findings, query.Finding{
			Code:   query.FindingExplainFailed,
			Detail: err.Error(),
		})
	}
	return vq
}

// inspect runs the pure checks and the text surgery.
func inspect(raw string, maxLimit int) query.ValidatedQuery {
	vq := query.ValidatedQuery{Raw: raw, AppliedLimit: maxLimit}
	tokens := tokenize(raw)

	sig := significant(tokens)
	if len(sig) == 0 {
		vq.Findings = append(vq.Findings, query.Finding{Code: query.FindingEmptyStatement})
		return vq
	}

	if !sig[0].keywordEquals("SELECT") && !sig[0].keywordEquals("WITH") {
		vq.Findings = append(vq.Findings, query.Finding{
			Code:   query.FindingNotSelect,
			Detail: fmt.Sprintf("statement starts with %q, only SELECT is allowed", sig[0].text),
		})
	}

	for idx, t := range sig {
		if t.kind == tokSemicolon && idx != len(sig)-1 {
			vq.Findings = append(vq.Findings, query.Finding{
				Code:   query.FindingMultipleStatements,
				Detail: "statement terminator followed by further SQL",
			})
			break
		}
	}

	for _, t := range sig {
		if t.kind == tokPlaceholderNamed || t.kind == tokPlaceholderPositional {
			vq.Findings = append(vq.Findings, query.Finding{
				Code:   query.FindingPlaceholderSyntax,
				Detail: fmt.Sprintf("bind placeholder %q: emit literal SQL instead", t.text),
			})
			break
		}
	}

	if len(vq.Findings) > 0 {
		return vq
	}

	// Comments after the final significant token are stripped; inline comments
	// are untouched because the cut point is the end of the last significant
	// token. A terminated statement is cut before the terminator and gets it
	// re-appended, so a comment sitting between the last clause and the
	// semicolon cannot swallow clauses appended later.
	last := sig[len(sig)-1]
	end := last.end
	terminator := ""
	if last.kind == tokSemicolon {
		terminator = ";"
		end = sig[len(sig)-2].end
	}
	sanitized := strings.TrimRight(raw[:end], " \t\r\n") + terminator

	sanitized, applied := enforceLimit(sanitized, sig, maxLimit)
	vq.Sanitized = sanitized
	vq.AppliedLimit = applied
	return vq
}

// significant filters out comment tokens.
func significant(tokens []token) []token {
	sig := make([]token, 0, len(tokens))
	for _, t := range tokens {
		if t.isComment() {
			continue
		}
		sig = append(sig, t)
	}
	return sig
}

// enforceLimit applies clamp-down limit enforcement to the outermost trailing
// LIMIT clause. Subquery limits sit at depth > 0 or away from the statement
// tail and are never touched. A model-specified limit at or under the cap is
// preserved verbatim.
func enforceLimit(sanitized string, sig []token, maxLimit int) (string, int) {
	i := len(sig) - 1

	terminated := false
	if i >= 0 && sig[i].kind == tokSemicolon {
		terminated = true
		i--
	}

	// optional trailing OFFSET n after the LIMIT clause
	if i >= 1 && sig[i].kind == tokNumber && sig[i-1].keywordEquals("OFFSET") && sig[i-1].depth == 0 {
		i -= 2
	}

	if i >= 1 && sig[i-1].keywordEquals("LIMIT") && sig[i-1].depth == 0 &&
		(sig[i].kind == tokNumber || sig[i].keywordEquals("ALL")) {
		limTok := sig[i]

		if limTok.keywordEquals("ALL") {
			return splice(sanitized, limTok.start, limTok.end, strconv.Itoa(maxLimit)), maxLimit
		}

		n, err := strconv.Atoi(limTok.text)
		if err != nil || n > maxLimit {
			return splice(sanitized, limTok.start, limTok.end, strconv.Itoa(maxLimit)), maxLimit
		}
		return sanitized, n
	}

	clause := fmt.Sprintf(" LIMIT %d", maxLimit)
	if terminated {
		body := strings.TrimRight(sanitized[:len(sanitized)-1], " \t\r\n")
		return body + clause + ";", maxLimit
	}
	return sanitized + clause, maxLimit
}

// splice replaces sanitized[start:end] with repl. Offsets come from the
// tokenizer and always precede any appended text, so they remain valid.
func splice(s string, start, end int, repl string) string {
	return s[:start] + repl + s[end:]
}
