package domain

import "time"

// OutcomeStatus is the result of ingesting one document.
type OutcomeStatus string

// Outcome statuses.
const (
	// OutcomeStored means at least one passage was stored.
	OutcomeStored OutcomeStatus = "stored"

	// OutcomeDuplicate means every passage was a duplicate of an existing
	// passage, or the document id repeated in the batch.
	OutcomeDuplicate OutcomeStatus = "duplicate"

	// OutcomeFailed means the document failed; see Outcome.Kind.
	OutcomeFailed OutcomeStatus = "failed"
)

// IngestRequest is a batch of documents for one project.
type IngestRequest struct {
	// Project is the namespace every passage is stored under. Required.
	Project string

	// Documents are processed independently.
	Documents []Document

	// Metadata is applied to every passage and overrides fetcher values.
	Metadata map[string]any
}

// Outcome is the per-document result of an ingestion run.
type Outcome struct {
	DocumentID string        `json:"document_id"`
	Status     OutcomeStatus `json:"status"`

	// Kind is the failure kind (see ErrorKind) when Status is failed.
	Kind string `json:"kind,omitempty"`

	// Err is the failure, when Status is failed.
	Err error `json:"-"`

	// Message is Err rendered as text for serialisation.
	Message string `json:"message,omitempty"`

	// Passages is the number of passages produced by the chunker.
	Passages int `json:"passages"`

	// Stored is the number of passages written to the store.
	Stored int `json:"stored"`

	// Duplicates is the number of passages dropped as duplicates.
	Duplicates int `json:"duplicates"`

	// Warnings lists non-fatal issues such as dropped metadata values.
	Warnings []string `json:"warnings,omitempty"`
}

// IngestSummary aggregates an ingestion run.
type IngestSummary struct {
	RunID   string        `json:"run_id"`
	Project string        `json:"project"`
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed"`

	// Outcomes holds one entry per input document, in input order.
	Outcomes []Outcome `json:"outcomes"`

	// Document counts.
	Stored     int `json:"stored"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`

	// Passage counts.
	PassagesStored    int `json:"passages_stored"`
	PassagesDuplicate int `json:"passages_duplicate"`
}

// Tally recomputes the summary counts from Outcomes.
func (s *IngestSummary) Tally() {
	s.Stored, s.Duplicates, s.Failed = 0, 0, 0
	s.PassagesStored, s.PassagesDuplicate = 0, 0
	for _, o := range s.Outcomes {
		switch o.Status {
		case OutcomeStored:
			s.Stored++
		case OutcomeDuplicate:
			s.Duplicates++
		case OutcomeFailed:
			s.Failed++
		}
		s.PassagesStored += o.Stored
		s.PassagesDuplicate += o.Duplicates
	}
}

// Fail marks the outcome failed with err. Stored keeps counting entries
// committed before the failure.
func (o *Outcome) Fail(err error) {
	o.Status = OutcomeFailed
	o.Kind = ErrorKind(err)
	o.Err = err
	o.Message = err.Error()
}
