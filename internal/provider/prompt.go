package provider

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/timvw/park-patrol/internal/model"
)

// VisionPrompt instructs a multimodal model to transcribe a sign.
// Loaded from prompts/vision.md at compile time.
//
//go:embed prompts/vision.md
var VisionPrompt string

// DecisionSystemPrompt is the system-level instruction shared by every
// decision provider.
//
//go:embed prompts/decision_system.md
var DecisionSystemPrompt string

//go:embed prompts/decision_user.tmpl
var decisionUserTemplate string

//go:embed decision.schema.json
var decisionSchemaJSON []byte

var decisionUser = template.Must(template.New("decision_user").
	Funcs(template.FuncMap{"json": jsonValue}).
	Parse(decisionUserTemplate))

// jsonValue renders v as a JSON literal for the situation block.
func jsonValue(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

const notProvided = "Not Provided"

// DecisionPrompt renders the user prompt for one decision.
func DecisionPrompt(signText string, pc model.ParkingContext) (string, error) {
	data := struct {
		SignText    string
		CurrentTime string
		DayOfWeek   string
		VehicleType model.VehicleType
		IsHoliday   bool
		City        string
		State       string
	}{
		SignText:    strings.TrimSpace(signText),
		CurrentTime: pc.CurrentTime.Format(time.RFC3339),
		DayOfWeek:   pc.CurrentTime.Weekday().String(),
		VehicleType: pc.VehicleType,
		IsHoliday:   pc.IsHoliday,
		City:        notProvided,
		State:       notProvided,
	}
	if data.VehicleType == "" {
		data.VehicleType = model.VehicleSedan
	}
	if loc := pc.Location; loc != nil {
		if loc.City != "" {
			data.City = loc.City
		}
		if loc.State != "" {
			data.State = loc.State
		}
	}

	var buf bytes.Buffer
	if err := decisionUser.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering decision prompt: %w", err)
	}
	return buf.String(), nil
}

// DecisionSchema returns a fresh copy of the decision JSON Schema.
func DecisionSchema() map[string]any {
	var m map[string]any
	if err := json.Unmarshal(decisionSchemaJSON, &m); err != nil {
		panic(fmt.Sprintf("embedded decision schema: %v", err))
	}
	return m
}
