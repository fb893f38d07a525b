package agent

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/rudnitski/HealthUp-sub005/internal/model/chat"
)

const schemaDescription = `You answer questions about lab results stored in PostgreSQL.

Tables:
  lab_results(id, patient_id, parameter_id, analyte_id, value numeric, unit text,
              reference_low numeric, reference_high numeric, measured_at timestamptz)
  parameters(id, name text)   -- canonical lab parameter names, e.g. "Vitamin D, 25-OH"
  analytes(id, name text)     -- canonical analyte names

Rules:
- Parameter and analyte names in questions are noisy. Resolve them with
  search_parameter_names / search_analyte_names before filtering on them.
- Emit fully literal SQL: no bind placeholders (:name or $1), no parameters.
- Exactly one SELECT statement per query. Never modify data.
- Prefer a small LIMIT; large results are truncated anyway.
- When you have the answer, you MUST call finalize_query. Choose display
  "plot" for numeric series over time and "table" otherwise.`

// buildConversation assembles the full running conversation for a model call:
// system prompt, prior turns, then this turn's observations (appended by the
// loop as it goes). The patient scope is an instruction to the model, not an
// enforcement mechanism; the quoting only keeps awkward ids from garbling the
// prompt.
func buildConversation(patientID string, history []chat.Turn) []*schema.Message {
	var sb strings.Builder
	sb.WriteString(schemaDescription)
	if patientID != "" {
		quoted := strings.ReplaceAll(patientID, "'", "''")
		fmt.Fprintf(&sb, "\n\nThis conversation is scoped to patient_id = '%s'. Every query must filter on it.", quoted)
	}

	messages := make([]*schema.Message, 0, len(history)+1)
	messages = append(messages, schema.SystemMessage(sb.String()))

	for _, turn := range history {
		switch turn.Role {
		case "user":
			messages = append(messages, schema.UserMessage(turn.Content))
		case "assistant":
			if turn.Content != "" {
				messages = append(messages, schema.AssistantMessage(turn.Content, nil))
			}
		}
	}

	return messages
}
