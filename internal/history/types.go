package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/timvw/park-patrol/internal/model"
)

// Entry is one completed check.
type Entry struct {
	ID               string               `json:"id"`
	TS               time.Time            `json:"ts"`
	SignText         string               `json:"sign_text"`
	Confidence       model.Confidence     `json:"confidence"`
	Context          model.ParkingContext `json:"context"`
	Decision         model.Decision       `json:"decision"`
	VisionProvider   string               `json:"vision_provider"`
	DecisionProvider string               `json:"decision_provider"`
}

func (e Entry) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if strings.TrimSpace(e.SignText) == "" {
		return fmt.Errorf("sign_text is required")
	}
	return nil
}

// Recorder receives completed checks.
type Recorder interface {
	Record(Entry) error
}
