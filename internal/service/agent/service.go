package agent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rudnitski/HealthUp-sub005/internal/analysis/sqlguard"
	"github.com/rudnitski/HealthUp-sub005/internal/config"
	"github.com/rudnitski/HealthUp-sub005/internal/model/chat"
	"github.com/rudnitski/HealthUp-sub005/internal/model/event"
	"github.com/rudnitski/HealthUp-sub005/internal/model/query"
	"github.com/rudnitski/HealthUp-sub005/internal/store"
)

// Completer is the reasoning-model collaborator: full conversation in, either
// plain text or a tool invocation out. Idempotent on retry with identical
// input; nothing else is assumed.
type Completer interface {
	Complete(ctx context.Context, messages []*schema.Message) (*schema.Message, error)
}

// Datastore is the results-database collaborator consumed by the tool
// executors.
type Datastore interface {
	FuzzySearch(ctx context.Context, kind store.NameKind, term string, limit int, threshold float64) ([]query.FuzzyMatch, error)
	Query(ctx context.Context, sql string) (query.Result, error)
}

// SessionStore is the narrow view of the concurrency guard the orchestrator
// needs. Session state is owned by the guard; the orchestrator only reads the
// transcript and publishes events.
type SessionStore interface {
	History(sessionID string) ([]chat.Turn, error)
	PatientScope(sessionID string) (string, error)
	Publish(sessionID string, ev event.Event)
}

// Service drives the plan→act→observe loop for one turn at a time.
type Service struct {
	completer Completer
	data      Datastore
	sessions  SessionStore
	validator *sqlguard.Validator
	cfg       config.AgentConfig
}

// NewService wires the orchestrator's collaborators.
func NewService(completer Completer, data Datastore, sessions SessionStore, validator *sqlguard.Validator, cfg config.AgentConfig) *Service {
	return &Service{
		completer: completer,
		data:      data,
		sessions:  sessions,
		validator: validator,
		cfg:       cfg,
	}
}

// outcome is the product of an accepted finalize_query call.
type outcome struct {
	result      query.Result
	display     string
	title       string
	explanation string
}

const adviceSimplify = "Try simplifying your question."

// RunTurn executes the iteration loop for the newest user message of the
// session and returns the sealed assistant turn. Every fatal path emits
// exactly one error event followed by one message_end; the session itself
// survives for the next message.
func (s *Service) RunTurn(ctx context.Context, sessionID string) chat.Turn {
	messageID := uuid.NewString()
	turn := chat.Turn{
		MessageID: messageID,
		Role:      "assistant",
		Status:    chat.TurnErrored,
		CreatedAt: time.Now().UTC(),
	}

	emit := func(ev event.Event) { s.sessions.Publish(sessionID, ev) }

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()

	emit(event.MessageStart(messageID))

	fail := func(userMsg string) chat.Turn {
		emit(event.Error(messageID, userMsg))
		emit(event.MessageEnd(messageID))
		return turn
	}

	history, err := s.sessions.History(sessionID)
	if err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("load transcript")
		return fail("Something went wrong. Please try again.")
	}
	patientID, _ := s.sessions.PatientScope(sessionID)
	conversation := buildConversation(patientID, history)

	failures := make(map[string]int)
	var prose strings.Builder

	for iteration := 0; iteration < s.cfg.MaxIterations; iteration++ {
		response, err := s.completer.Complete(ctx, conversation)
		if err != nil {
			if ctx.Err() != nil {
				log.Warn().Str("session", sessionID).Msg("turn wall-clock limit hit")
				return fail("That took too long to answer. " + adviceSimplify)
			}
			log.Error().Err(err).Str("session", sessionID).Int("iteration", iteration).Msg("model call failed")
			return fail("The assistant is currently unavailable. Please try again.")
		}

		if len(response.ToolCalls) == 0 {
			// Plain prose: stream it and keep looping; only finalize_query or
			// a limit ends the turn.
			if content := strings.TrimSpace(response.Content); content != "" {
				emit(event.Text(messageID, response.Content))
				prose.WriteString(response.Content)
			}
			conversation = append(conversation, schema.AssistantMessage(response.Content, nil))
			continue
		}

		conversation = append(conversation, response)

		for _, call := range response.ToolCalls {
			observation, final, execErr := s.executeTool(ctx, emit, &turn, iteration, call)
			if execErr != nil {
				if ctx.Err() != nil {
					log.Warn().Str("session", sessionID).Msg("turn wall-clock limit hit during tool execution")
					return fail("That took too long to answer. " + adviceSimplify)
				}
				failures[call.Function.Name]++
				if failures[call.Function.Name] >= 2 {
					log.Error().Err(execErr).Str("session", sessionID).Str("tool", call.Function.Name).
						Msg("repeated tool failure, aborting turn")
					return fail("Something went wrong while querying your results. Please try again.")
				}
				emit(event.Status("retrying", call.Function.Name+" failed, retrying"))
				observation = "tool execution failed: " + execErr.Error()
			} else {
				failures[call.Function.Name] = 0
			}

			if final != nil {
				turn.Status = chat.TurnCompleted
				if final.explanation != "" {
					if prose.Len() > 0 {
						prose.WriteString("\n")
					}
					prose.WriteString(final.explanation)
					emit(event.Text(messageID, final.explanation))
				}
				turn.Content = prose.String()

				if final.display == "plot" {
					emit(event.PlotResult(messageID, final.result, final.title))
				} else {
					emit(event.TableResult(messageID, final.result, final.title))
				}
				emit(event.MessageEnd(messageID))
				log.Info().Str("session", sessionID).Str("message", messageID).
					Int("iterations", iteration+1).Int("rows", len(final.result.Rows)).Msg("turn completed")
				return turn
			}

			conversation = append(conversation, schema.ToolMessage(observation, call.ID))
		}
	}

	log.Warn().Str("session", sessionID).Int("limit", s.cfg.MaxIterations).Msg("iteration limit hit")
	return fail("I couldn't get to an answer in time. " + adviceSimplify)
}

// executeTool dispatches one tool call, records its invocation on the turn and
// brackets it with tool_start/tool_complete events. A non-nil outcome means an
// accepted finalize_query; execErr reports datastore failures that count
// against the per-tool budget (validation rejections do not).
func (s *Service) executeTool(ctx context.Context, emit func(event.Event), turn *chat.Turn, iteration int, call schema.ToolCall) (string, *outcome, error) {
	name := call.Function.Name
	args := call.Function.Arguments

	emit(event.ToolStart(name, paramsPreview(args)))
	started := time.Now()

	observation, final, err := s.dispatch(ctx, emit, name, args)

	invocation := chat.ToolInvocation{
		Iteration: iteration,
		Tool:      name,
		Arguments: args,
		Result:    observation,
		Duration:  time.Since(started),
	}
	if err != nil {
		invocation.Error = err.Error()
	}
	turn.Invocations = append(turn.Invocations, invocation)

	emit(event.ToolComplete(name))
	return observation, final, err
}

func (s *Service) dispatch(ctx context.Context, emit func(event.Event), name, args string) (string, *outcome, error) {
	switch name {
	case ToolSearchParameterNames:
		obs, err := s.execFuzzy(ctx, store.KindParameter, args)
		return obs, nil, err
	case ToolSearchAnalyteNames:
		obs, err := s.execFuzzy(ctx, store.KindAnalyte, args)
		return obs, nil, err
	case ToolRunExploratoryQuery:
		obs, err := s.execExploratory(ctx, emit, args)
		return obs, nil, err
	case ToolFinalizeQuery:
		return s.execFinalize(ctx, emit, args)
	default:
		return "unknown tool: " + name, nil, nil
	}
}

func (s *Service) execFuzzy(ctx context.Context, kind store.NameKind, rawArgs string) (string, error) {
	var args fuzzySearchArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return "invalid arguments: " + err.Error(), nil
	}
	if args.Limit <= 0 {
		args.Limit = s.cfg.FuzzyLimit
	}
	threshold := s.cfg.FuzzyThreshold
	if args.Threshold != nil {
		threshold = *args.Threshold
	}

	matches, err := s.data.FuzzySearch(ctx, kind, args.Term, args.Limit, threshold)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]any{"matches": matches})
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func (s *Service) execExploratory(ctx context.Context, emit func(event.Event), rawArgs string) (string, error) {
	var args exploratoryArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return "invalid arguments: " + err.Error(), nil
	}

	vq := s.validator.Validate(ctx, args.SQL, s.cfg.ExploratoryLimit)
	if !vq.Accepted() {
		emit(event.Status("revising", "query failed safety checks, revising"))
		return rejectionObservation(vq.Findings), nil
	}

	result, err := s.data.Query(ctx, vq.Sanitized)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func (s *Service) execFinalize(ctx context.Context, emit func(event.Event), rawArgs string) (string, *outcome, error) {
	var args finalizeArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return "invalid arguments: " + err.Error(), nil, nil
	}

	vq := s.validator.Validate(ctx, args.SQL, s.cfg.ExploratoryLimit)
	if !vq.Accepted() {
		log.Debug().Str("sql", args.SQL).Interface("findings", vq.Findings).Msg("finalize rejected")
		emit(event.Status("revising", "query failed safety checks, revising"))
		return rejectionObservation(vq.Findings), nil, nil
	}

	result, err := s.data.Query(ctx, vq.Sanitized)
	if err != nil {
		return "", nil, err
	}

	display := args.Display
	if display != "plot" {
		display = "table"
	}

	return "", &outcome{
		result:      result,
		display:     display,
		title:       args.Title,
		explanation: args.Explanation,
	}, nil
}

// rejectionObservation renders validator findings as a structured observation
// so the model can repair its SQL on the next iteration.
func rejectionObservation(findings []query.Finding) string {
	payload, err := json.Marshal(map[string]any{
		"rejected": true,
		"findings": findings,
	})
	if err != nil {
		return "query rejected"
	}
	return string(payload)
}

// paramsPreview decodes tool arguments for the tool_start event, falling back
// to the raw string when the model emitted malformed JSON.
func paramsPreview(rawArgs string) map[string]any {
	var params map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &params); err != nil {
		return map[string]any{"raw": rawArgs}
	}
	return params
}
