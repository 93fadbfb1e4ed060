package sdk

import (
	"time"
)

// CriterionStatus is the tracking state of a criterion.
type CriterionStatus string

const (
	CriterionNotStarted CriterionStatus = "not_started"
	CriterionInProgress CriterionStatus = "in_progress"
	CriterionCompleted  CriterionStatus = "completed"
)

// IsPending reports whether the criterion is not yet completed.
func (s CriterionStatus) IsPending() bool {
	return s != CriterionCompleted
}

// Criterion is one concrete, observable acceptance statement for a feature.
type Criterion struct {
	// ID is a unique identifier.
	ID string `json:"id"`

	// Feature groups criteria that are verified together.
	Feature string `json:"feature"`

	// Description states what is observed when the criterion holds,
	// e.g. "Submitting the form with an empty email shows 'Email is required'".
	Description string `json:"description"`

	// Status is the tracking state.
	Status CriterionStatus `json:"status"`

	// VerifiedBy is the run that completed the criterion.
	VerifiedBy string `json:"verified_by,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewCriterion creates a not-started criterion.
func NewCriterion(feature, description string) *Criterion {
	now := time.Now()
	return &Criterion{
		ID:          NewID(),
		Feature:     feature,
		Description: description,
		Status:      CriterionNotStarted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Start marks the criterion in progress.
func (c *Criterion) Start() {
	if c.Status == CriterionCompleted {
		return
	}
	c.Status = CriterionInProgress
	c.UpdatedAt = time.Now()
}

// Complete marks the criterion completed by runID.
func (c *Criterion) Complete(runID string) {
	now := time.Now()
	c.Status = CriterionCompleted
	c.VerifiedBy = runID
	c.UpdatedAt = now
	c.CompletedAt = &now
}
