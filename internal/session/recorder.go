package session

import (
	"encoding/json"

	"mecha/internal/llm"
	"mecha/internal/logging"
)

// failoverRecord is the journal payload written when the broker fails over.
type failoverRecord struct {
	Event        string `json:"event"`
	FromProvider string `json:"from_provider"`
	FromModel    string `json:"from_model"`
	ToProvider   string `json:"to_provider"`
	ToModel      string `json:"to_model"`
	Cause        string `json:"cause"`
}

// BrokerRecorder journals broker events into a session's exchange log.
type BrokerRecorder struct {
	journal *Journal
}

// NewBrokerRecorder wires a journal into the broker's recorder seam.
func NewBrokerRecorder(j *Journal) *BrokerRecorder {
	return &BrokerRecorder{journal: j}
}

// RecordFailover appends exactly one agent-authored exchange describing the
// failover.
func (r *BrokerRecorder) RecordFailover(from llm.Provider, fromModel llm.LLMType, to llm.Provider, toModel llm.LLMType, cause error) {
	payload, err := json.Marshal(failoverRecord{
		Event:        "llm_failover",
		FromProvider: string(from),
		FromModel:    string(fromModel),
		ToProvider:   string(to),
		ToModel:      string(toModel),
		Cause:        cause.Error(),
	})
	if err != nil {
		logging.JournalError("marshal failover record: %v", err)
		return
	}
	if _, err := r.journal.Append(AuthorAgent, KindMessage, payload); err != nil {
		logging.JournalError("journal failover record: %v", err)
	}
}
