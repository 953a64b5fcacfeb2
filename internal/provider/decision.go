package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/timvw/park-patrol/internal/llm"
	"github.com/timvw/park-patrol/internal/model"
	"github.com/timvw/park-patrol/internal/normalize"
)

// RemoteDecision asks a remote chat model and normalizes its free-form reply.
type RemoteDecision struct {
	client llm.Client
	usage  UsageReporter
	issues IssueReporter
}

func NewRemoteDecision(client llm.Client, usage UsageReporter, issues IssueReporter) *RemoteDecision {
	return &RemoteDecision{client: client, usage: usage, issues: issues}
}

func (d *RemoteDecision) Kind() model.Selector { return model.SelectorRemote }

func (d *RemoteDecision) Name() string { return d.client.Provider() + "/" + d.client.Model() }

func (d *RemoteDecision) Decide(ctx context.Context, signText string, pc model.ParkingContext) (model.Decision, error) {
	prompt, err := DecisionPrompt(signText, pc)
	if err != nil {
		return model.Decision{}, err
	}
	resp, err := d.client.Complete(ctx, llm.Request{System: DecisionSystemPrompt, Prompt: prompt})
	if err != nil {
		return model.Decision{}, wrapOp("remote decision", err)
	}
	if d.usage != nil {
		d.usage(ctx, d.client.Provider(), resp.Model, resp.Usage)
	}

	out, err := normalize.DecodeDecision(resp.Text, pc.CurrentTime)
	if err != nil {
		return model.Decision{}, err
	}
	d.report(ctx, out.Issues)
	return out.Decision, nil
}

func (d *RemoteDecision) report(ctx context.Context, issues []error) {
	if d.issues == nil {
		return
	}
	for _, issue := range issues {
		d.issues(ctx, d.Name(), issue)
	}
}

// LocalDecision runs structured generation against an on-device model served
// through an OpenAI-compatible endpoint. The reply is constrained by the
// decision JSON Schema, validated against it and decoded into typed fields,
// so no delimiter scanning is needed.
type LocalDecision struct {
	client llm.Client
	schema *jsonschema.Schema
	issues IssueReporter
}

// NewLocalDecision compiles the decision schema and binds client. A nil
// client means no local model is configured.
func NewLocalDecision(client llm.Client, issues IssueReporter) (*LocalDecision, error) {
	if client == nil || strings.TrimSpace(client.Model()) == "" {
		return nil, &model.Error{Op: "local decision", Err: model.ErrModelUnavailable, Detail: "no on-device model configured"}
	}
	schema, err := compileDecisionSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling decision schema: %w", err)
	}
	return &LocalDecision{client: client, schema: schema, issues: issues}, nil
}

func compileDecisionSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("decision.schema.json", strings.NewReader(string(decisionSchemaJSON))); err != nil {
		return nil, err
	}
	return compiler.Compile("decision.schema.json")
}

func (d *LocalDecision) Kind() model.Selector { return model.SelectorLocal }

func (d *LocalDecision) Name() string { return "local/" + d.client.Model() }

func (d *LocalDecision) Decide(ctx context.Context, signText string, pc model.ParkingContext) (model.Decision, error) {
	prompt, err := DecisionPrompt(signText, pc)
	if err != nil {
		return model.Decision{}, err
	}
	resp, err := d.client.Complete(ctx, llm.Request{
		System: DecisionSystemPrompt,
		Prompt: prompt,
		Schema: &llm.Schema{Name: "parking_decision", Definition: DecisionSchema()},
	})
	if err != nil {
		return model.Decision{}, localModelError(err)
	}

	var doc any
	if err := json.Unmarshal([]byte(resp.Text), &doc); err != nil {
		return model.Decision{}, &model.Error{Op: "local decision", Err: model.ErrMalformedResponse, Raw: resp.Text, Cause: err}
	}
	if err := d.schema.Validate(doc); err != nil {
		return model.Decision{}, &model.Error{Op: "local decision", Err: model.ErrSchemaViolation, Raw: resp.Text, Cause: err}
	}
	var gen normalize.StructuredDecision
	if err := json.Unmarshal([]byte(resp.Text), &gen); err != nil {
		return model.Decision{}, &model.Error{Op: "local decision", Err: model.ErrSchemaViolation, Raw: resp.Text, Cause: err}
	}

	out := normalize.FromStructured(gen, pc.CurrentTime)
	if d.issues != nil {
		for _, issue := range out.Issues {
			d.issues(ctx, d.Name(), issue)
		}
	}
	return out.Decision, nil
}

// localModelError reports an unreachable server or a model that has not been
// pulled as ErrModelUnavailable. Other failures keep their classification.
func localModelError(err error) error {
	var merr *model.Error
	if !errors.As(err, &merr) || !errors.Is(err, model.ErrUpstream) {
		return err
	}
	if merr.Status == 0 || merr.Status == http.StatusNotFound {
		return &model.Error{Op: "local decision", Err: model.ErrModelUnavailable, Status: merr.Status, Raw: merr.Raw, Cause: merr.Cause}
	}
	return wrapOp("local decision", err)
}
