package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/executor"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/sqlcheck"
)

const (
	toolDescribeSchema = "describe_schema"
	toolValidateQuery  = "validate_query"
	toolExecuteQuery   = "execute_query"
)

type SchemaSource interface {
	Describe(ctx context.Context, allowedTables []string) (schema.Descriptor, error)
}

type QueryRunner interface {
	Execute(ctx context.Context, query string) (executor.Result, error)
}

// Toolbox is the closed set of tools the model may call. Anything
// outside these three names is answered with an error result, never
// executed.
type Toolbox struct {
	schema         SchemaSource
	runner         QueryRunner
	allowedTables  []string
	schemaMaxBytes int
}

func NewToolbox(schemaSource SchemaSource, runner QueryRunner, cfg config.AgentConfig) *Toolbox {
	return &Toolbox{
		schema:         schemaSource,
		runner:         runner,
		allowedTables:  cfg.AllowedTables,
		schemaMaxBytes: cfg.SchemaMaxBytes,
	}
}

func (t *Toolbox) Specs() []ToolSpec {
	queryProperty := map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "A single read-only SELECT statement.",
		},
	}
	return []ToolSpec{
		{
			Name:        toolDescribeSchema,
			Description: "Describe the tables, columns, and sample rows visible to this session. Call this before writing any SQL.",
			InputSchema: map[string]any{},
		},
		{
			Name:        toolValidateQuery,
			Description: "Check whether a candidate SQL statement would be accepted for execution, without running it.",
			InputSchema: queryProperty,
			Required:    []string{"query"},
		},
		{
			Name:        toolExecuteQuery,
			Description: "Validate and run a single read-only SELECT statement, returning up to the configured row limit.",
			InputSchema: queryProperty,
			Required:    []string{"query"},
		},
	}
}

// Outcome carries the tool result for the model plus bookkeeping for
// the runner: the successful execution, if any, and the validation
// reason when a query was rejected.
type Outcome struct {
	Result    ToolResult
	Execution *executor.Result
	Rejection sqlcheck.Reason
}

func (t *Toolbox) Dispatch(ctx context.Context, call ToolCall) Outcome {
	switch call.Name {
	case toolDescribeSchema:
		return t.describeSchema(ctx, call)
	case toolValidateQuery:
		return t.validateQuery(call)
	case toolExecuteQuery:
		return t.executeQuery(ctx, call)
	default:
		return errorOutcome(call, fmt.Sprintf("unknown tool %q; available tools are %s, %s, and %s",
			call.Name, toolDescribeSchema, toolValidateQuery, toolExecuteQuery))
	}
}

func (t *Toolbox) describeSchema(ctx context.Context, call ToolCall) Outcome {
	descriptor, err := t.schema.Describe(ctx, t.allowedTables)
	if err != nil {
		return errorOutcome(call, fmt.Sprintf("SCHEMA_UNAVAILABLE: %v", err))
	}
	return Outcome{Result: ToolResult{CallID: call.ID, Content: descriptor.Render(t.schemaMaxBytes)}}
}

func (t *Toolbox) validateQuery(call ToolCall) Outcome {
	query, err := queryArgument(call)
	if err != nil {
		return errorOutcome(call, err.Error())
	}

	verdict := sqlcheck.Validate(query, t.allowedTables)
	if !verdict.Accepted {
		observability.IncrementValidationRejection(string(verdict.Reason))
	}

	payload := map[string]any{
		"accepted":   verdict.Accepted,
		"reason":     verdict.Reason,
		"detail":     verdict.Detail,
		"normalized": verdict.Normalized,
	}
	if verdict.Reason == sqlcheck.ReasonDisallowedTable && len(t.allowedTables) > 0 {
		payload["allowed_tables"] = t.allowedTables
	}
	content, _ := json.Marshal(payload)
	outcome := Outcome{Result: ToolResult{CallID: call.ID, Content: string(content)}}
	if !verdict.Accepted {
		outcome.Rejection = verdict.Reason
	}
	return outcome
}

func (t *Toolbox) executeQuery(ctx context.Context, call ToolCall) Outcome {
	query, err := queryArgument(call)
	if err != nil {
		return errorOutcome(call, err.Error())
	}

	result, err := t.runner.Execute(ctx, query)
	if err != nil {
		code := executionErrorCode(err)
		if code == "UNSAFE_QUERY_REJECTED" {
			observability.IncrementValidationRejection(code)
		}
		errPayload := map[string]string{
			"error_code": code,
			"message":    err.Error(),
		}
		if code == "QUERY_TIMEOUT" {
			errPayload["hint"] = "the query exceeded the time limit; try a simpler or more selective query"
		}
		content, _ := json.Marshal(errPayload)
		return Outcome{Result: ToolResult{CallID: call.ID, Content: string(content), IsError: true}}
	}

	payload := map[string]any{
		"columns":   result.Columns,
		"rows":      result.Rows,
		"row_count": result.RowCount,
		"truncated": result.Truncated,
	}
	if result.Truncated {
		payload["note"] = fmt.Sprintf("result truncated to the first %d rows; mention that the answer is partial", result.RowCount)
	}
	content, _ := json.Marshal(payload)
	return Outcome{
		Result:    ToolResult{CallID: call.ID, Content: string(content)},
		Execution: &result,
	}
}

func executionErrorCode(err error) string {
	switch {
	case errors.Is(err, executor.ErrUnsafeQuery):
		return "UNSAFE_QUERY_REJECTED"
	case errors.Is(err, executor.ErrConnectionFailed):
		return "CONNECTION_FAILED"
	case errors.Is(err, executor.ErrQueryTimeout):
		return "QUERY_TIMEOUT"
	default:
		return "QUERY_ERROR"
	}
}

func queryArgument(call ToolCall) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return "", fmt.Errorf("invalid input for %s: %v", call.Name, err)
	}
	if args.Query == "" {
		return "", fmt.Errorf("%s requires a non-empty query argument", call.Name)
	}
	return args.Query, nil
}

func errorOutcome(call ToolCall, message string) Outcome {
	return Outcome{Result: ToolResult{CallID: call.ID, Content: message, IsError: true}}
}
