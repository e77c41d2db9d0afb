// Package models defines rollout bucketing value types.
package models

import id "pqshield/pkg/domain"

// Variant is the group an identifier is bucketed into. Derived, never
// stored: for fixed inputs the assignment is always identical.
type Variant string

const (
	VariantControl   Variant = "CONTROL"
	VariantTreatment Variant = "TREATMENT"
)

func (v Variant) String() string {
	return string(v)
}

// Exposure is one observation tuple for the experiment metrics sink.
type Exposure struct {
	UserID       id.UserID       `json:"user_id"`
	ExperimentID id.ExperimentID `json:"experiment_id"`
	Variant      Variant         `json:"variant"`
	Metric       string          `json:"metric"`
	Value        float64         `json:"value"`
}
