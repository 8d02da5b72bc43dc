// Package classifier assesses the risk of a task's action. Classification is
// a total, deterministic function of the action type and its metadata: no
// clock, no I/O, no environment.
package classifier

import (
	"github.com/wardenflow/warden/model/risk"
)

// Financial metadata thresholds.
const (
	highAmountThreshold   = 500
	mediumAmountThreshold = 50
)

// Contact history values recognised in communication metadata. A contact is
// considered frequent after at least 5 prior interactions; the sensor encodes
// that judgement in the metadata, the classifier only reads it.
const (
	contactHistoryNew      = "new"
	contactHistoryFrequent = "frequent"
)

var defaultHighRiskActions = []string{
	"delete_file",
	"payment",
	"execute_payment",
	"post_social_media",
	"dm_reply",
	"bulk_operation",
}

var defaultMediumRiskActions = []string{
	"move_file_outside_vault",
	"modify_config",
	"create_external_resource",
}

// Service classifies actions by risk. The zero value is not usable; use New.
type Service struct {
	highRiskActions   map[string]bool
	mediumRiskActions map[string]bool
}

// Option customises the classifier rule sets.
type Option func(*Service)

// WithHighRiskActions extends the set of action types classified HIGH
// unconditionally.
func WithHighRiskActions(actions ...string) Option {
	return func(s *Service) {
		for _, action := range actions {
			s.highRiskActions[action] = true
		}
	}
}

// WithMediumRiskActions extends the set of action types classified MEDIUM.
func WithMediumRiskActions(actions ...string) Option {
	return func(s *Service) {
		for _, action := range actions {
			s.mediumRiskActions[action] = true
		}
	}
}

// New creates a classifier with the default rule sets.
func New(options ...Option) *Service {
	s := &Service{
		highRiskActions:   make(map[string]bool),
		mediumRiskActions: make(map[string]bool),
	}
	for _, action := range defaultHighRiskActions {
		s.highRiskActions[action] = true
	}
	for _, action := range defaultMediumRiskActions {
		s.mediumRiskActions[action] = true
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Classify evaluates the rules in order, first match wins:
//  1. action type in the high-risk set
//  2. action type in the medium-risk set
//  3. financial metadata (amount, new payee)
//  4. communication metadata (contact history)
//  5. unclassifiable action with insufficient metadata => HIGH (fail-safe)
//  6. otherwise LOW
func (s *Service) Classify(actionType string, metadata map[string]interface{}) risk.Level {
	if s.highRiskActions[actionType] {
		return risk.High
	}
	if s.mediumRiskActions[actionType] {
		return risk.Medium
	}

	evaluable := false
	if amount, ok := numericValue(metadata, "amount"); ok {
		evaluable = true
		if amount >= highAmountThreshold {
			return risk.High
		}
		if amount >= mediumAmountThreshold {
			return risk.Medium
		}
	}
	if newPayee, ok := boolValue(metadata, "new_payee"); ok {
		evaluable = true
		if newPayee {
			return risk.High
		}
	}

	if history, ok := stringValue(metadata, "contact_history"); ok {
		switch history {
		case contactHistoryNew:
			return risk.Medium
		case contactHistoryFrequent:
			return risk.Low
		}
		// Unknown history values are not evaluable; fall through.
	}

	if evaluable {
		return risk.Low
	}
	// An action the rules know nothing about, with no metadata they can
	// reason over, blocks rather than clears.
	return risk.High
}

func numericValue(metadata map[string]interface{}, key string) (float64, bool) {
	raw, ok := metadata[key]
	if !ok {
		return 0, false
	}
	switch actual := raw.(type) {
	case float64:
		return actual, true
	case float32:
		return float64(actual), true
	case int:
		return float64(actual), true
	case int64:
		return float64(actual), true
	}
	return 0, false
}

func boolValue(metadata map[string]interface{}, key string) (bool, bool) {
	raw, ok := metadata[key]
	if !ok {
		return false, false
	}
	actual, ok := raw.(bool)
	return actual, ok
}

func stringValue(metadata map[string]interface{}, key string) (string, bool) {
	raw, ok := metadata[key]
	if !ok {
		return "", false
	}
	actual, ok := raw.(string)
	return actual, ok
}
