package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rudnitski/HealthUp-sub005/internal/analysis/sqlguard"
	"github.com/rudnitski/HealthUp-sub005/internal/config"
	"github.com/rudnitski/HealthUp-sub005/internal/model/chat"
	"github.com/rudnitski/HealthUp-sub005/internal/model/event"
	"github.com/rudnitski/HealthUp-sub005/internal/model/query"
	"github.com/rudnitski/HealthUp-sub005/internal/service/session"
	"github.com/rudnitski/HealthUp-sub005/internal/store"
)

// scriptedCompleter replays a fixed sequence of model responses. Once the
// script runs out it falls back to plain prose, which the loop treats as a
// non-terminal response.
type scriptedCompleter struct {
	responses []*schema.Message
	err       error
	calls     int
}

func (c *scriptedCompleter) Complete(_ context.Context, _ []*schema.Message) (*schema.Message, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return schema.AssistantMessage("Let me think about that.", nil), nil
	}
	r := c.responses[0]
	c.responses = c.responses[1:]
	return r, nil
}

type fakeDatastore struct {
	matches    []query.FuzzyMatch
	result     query.Result
	queryErr   error
	searchTerm string
	searchKind store.NameKind
	threshold  float64
	executed   []string
}

func (d *fakeDatastore) FuzzySearch(_ context.Context, kind store.NameKind, term string, _ int, threshold float64) ([]query.FuzzyMatch, error) {
	d.searchKind = kind
	d.searchTerm = term
	d.threshold = threshold
	return d.matches, nil
}

func (d *fakeDatastore) Query(_ context.Context, sql string) (query.Result, error) {
	d.executed = append(d.executed, sql)
	if d.queryErr != nil {
		return query.Result{}, d.queryErr
	}
	return d.result, nil
}

func toolCallMsg(name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{ID: "call-" + name, Function: schema.FunctionCall{Name: name, Arguments: args}},
		},
	}
}

func testConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxIterations:    8,
		TurnTimeout:      5 * time.Second,
		ExploratoryLimit: 200,
		FuzzyLimit:       10,
		FuzzyThreshold:   0.3,
		SessionIdleTTL:   time.Hour,
	}
}

// runTurn wires a fresh guard and session, runs one turn and returns the
// sealed turn plus the ordered events the transport would have seen.
func runTurn(t *testing.T, completer Completer, data Datastore, cfg config.AgentConfig) (chat.Turn, []event.Event) {
	t.Helper()

	guard := session.NewService(time.Hour)
	sess := guard.Create(context.Background(), "patient-1")
	_, err := guard.AppendUserTurn(sess.ID, "what's my vitamin D history?")
	require.NoError(t, err)

	ch, detach, err := guard.Subscribe(sess.ID)
	require.NoError(t, err)
	defer detach()

	svc := NewService(completer, data, guard, sqlguard.NewValidator(nil), cfg)
	turn := svc.RunTurn(context.Background(), sess.ID)

	var events []event.Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return turn, events
		}
	}
}

func eventTypes(events []event.Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func countType(events []event.Event, typ string) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestRunTurnHappyPath(t *testing.T) {
	const finalSQL = "SELECT measured_at, value FROM lab_results WHERE parameter_id = 'p1' ORDER BY measured_at, value LIMIT 50"

	completer := &scriptedCompleter{responses: []*schema.Message{
		schema.AssistantMessage("Looking up the exact parameter name.", nil),
		toolCallMsg(ToolSearchParameterNames, `{"term":"vitamin d"}`),
		toolCallMsg(ToolFinalizeQuery,
			`{"sql":"`+finalSQL+`","explanation":"Your vitamin D measurements over time.","display":"plot","title":"Vitamin D"}`),
	}}
	data := &fakeDatastore{
		matches: []query.FuzzyMatch{{Candidate: "Vitamin D (25-OH)", ID: "p1", Similarity: 0.82}},
		result: query.Result{
			Columns: []string{"measured_at", "value"},
			Rows:    []map[string]any{{"measured_at": "2026-01-10", "value": 31.2}},
		},
	}

	turn, events := runTurn(t, completer, data, testConfig())

	require.Equal(t, chat.TurnCompleted, turn.Status)
	assert.Contains(t, turn.Content, "Looking up the exact parameter name.")
	assert.Contains(t, turn.Content, "Your vitamin D measurements over time.")
	require.Len(t, turn.Invocations, 2)
	assert.Equal(t, ToolSearchParameterNames, turn.Invocations[0].Tool)
	assert.Equal(t, ToolFinalizeQuery, turn.Invocations[1].Tool)

	assert.Equal(t, store.KindParameter, data.searchKind)
	assert.Equal(t, "vitamin d", data.searchTerm)
	assert.InDelta(t, 0.3, data.threshold, 1e-9)

	// model-supplied LIMIT is under the cap and must survive verbatim
	require.Len(t, data.executed, 1)
	assert.Equal(t, finalSQL, data.executed[0])

	assert.Equal(t, []string{
		event.TypeSessionStart,
		event.TypeMessageStart,
		event.TypeText,
		event.TypeToolStart,
		event.TypeToolComplete,
		event.TypeToolStart,
		event.TypeToolComplete,
		event.TypeText,
		event.TypePlotResult,
		event.TypeMessageEnd,
	}, eventTypes(events))
}

func TestRunTurnUncappedFinalizeGetsClamped(t *testing.T) {
	completer := &scriptedCompleter{responses: []*schema.Message{
		toolCallMsg(ToolFinalizeQuery, `{"sql":"SELECT value FROM lab_results ORDER BY measured_at"}`),
	}}
	data := &fakeDatastore{result: query.Result{Columns: []string{"value"}}}

	turn, events := runTurn(t, completer, data, testConfig())

	require.Equal(t, chat.TurnCompleted, turn.Status)
	require.Len(t, data.executed, 1)
	assert.True(t, strings.HasSuffix(data.executed[0], "LIMIT 200"), "executed: %s", data.executed[0])

	// display defaults to a table when the model doesn't say
	assert.Equal(t, 1, countType(events, event.TypeTableResult))
	assert.Equal(t, 0, countType(events, event.TypePlotResult))
}

func TestRunTurnPlaceholderRejectionIsRecoverable(t *testing.T) {
	completer := &scriptedCompleter{responses: []*schema.Message{
		toolCallMsg(ToolFinalizeQuery, `{"sql":"SELECT value FROM lab_results WHERE patient_id = :pid"}`),
		toolCallMsg(ToolFinalizeQuery, `{"sql":"SELECT value FROM lab_results WHERE patient_id = 'patient-1' LIMIT 20"}`),
	}}
	data := &fakeDatastore{result: query.Result{Columns: []string{"value"}}}

	turn, events := runTurn(t, completer, data, testConfig())

	require.Equal(t, chat.TurnCompleted, turn.Status)
	assert.Equal(t, 2, completer.calls)

	// the rejected attempt never reached the database
	require.Len(t, data.executed, 1)
	assert.Contains(t, data.executed[0], "'patient-1'")

	require.Len(t, turn.Invocations, 2)
	assert.Contains(t, turn.Invocations[0].Result, query.FindingPlaceholderSyntax)
	assert.Empty(t, turn.Invocations[0].Error, "a validation rejection is an observation, not a failure")

	// the rejection is narrated to the client as a status event
	assert.Equal(t, 1, countType(events, event.TypeStatus))
	assert.Equal(t, 0, countType(events, event.TypeError))
	assert.Equal(t, 1, countType(events, event.TypeMessageEnd))
}

func TestRunTurnIterationLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIterations = 3

	completer := &scriptedCompleter{} // prose forever, never finalizes
	turn, events := runTurn(t, completer, &fakeDatastore{}, cfg)

	assert.Equal(t, chat.TurnErrored, turn.Status)
	assert.Equal(t, 3, completer.calls)
	assert.Equal(t, 1, countType(events, event.TypeError))
	assert.Equal(t, 1, countType(events, event.TypeMessageEnd))

	last := events[len(events)-1]
	assert.Equal(t, event.TypeMessageEnd, last.Type)
}

func TestRunTurnRepeatedToolFailureIsFatal(t *testing.T) {
	call := toolCallMsg(ToolRunExploratoryQuery, `{"sql":"SELECT value FROM lab_results LIMIT 5"}`)
	completer := &scriptedCompleter{responses: []*schema.Message{call, call}}
	data := &fakeDatastore{queryErr: errors.New(`relation "lab_results" does not exist`)}

	turn, events := runTurn(t, completer, data, testConfig())

	assert.Equal(t, chat.TurnErrored, turn.Status)
	assert.Equal(t, 2, completer.calls)
	assert.Equal(t, 1, countType(events, event.TypeStatus), "only the first failure announces a retry")
	assert.Equal(t, 1, countType(events, event.TypeError))
	assert.Equal(t, 1, countType(events, event.TypeMessageEnd))

	require.Len(t, turn.Invocations, 2)
	assert.NotEmpty(t, turn.Invocations[0].Error)
	assert.NotEmpty(t, turn.Invocations[1].Error)
}

func TestRunTurnModelFailure(t *testing.T) {
	completer := &scriptedCompleter{err: errors.New("upstream 503")}

	turn, events := runTurn(t, completer, &fakeDatastore{}, testConfig())

	assert.Equal(t, chat.TurnErrored, turn.Status)
	assert.Equal(t, 1, countType(events, event.TypeError))
	assert.Equal(t, 1, countType(events, event.TypeMessageEnd))
	assert.Empty(t, turn.Invocations)
}
