package models

import "time"

// FinalJudgement is the Planner's verdict on whether the instruction is
// satisfied, produced after an integration pass (§4.5 Phase D).
type FinalJudgement struct {
	IsComplete               bool     `json:"isComplete"`
	MissingAspects           []string `json:"missingAspects,omitempty"`
	AdditionalTaskSuggestions []string `json:"additionalTaskSuggestions,omitempty"`
	CompletionScore          *float64 `json:"completionScore,omitempty"`
	EvaluatedAt              time.Time `json:"evaluatedAt"`
}

// ConversationTurn is one exchange in the planning conversation, kept so
// subsequent additional-task generations can be given full prior context.
type ConversationTurn struct {
	Role    string    `json:"role"` // "user" or "assistant"
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// PlannerSession is one planning lifecycle: the instruction, the tasks it
// has generated so far across however many additional-task iterations,
// and the most recent final-completion judgement.
type PlannerSession struct {
	SessionID            string              `json:"sessionId"`
	Instruction          string              `json:"instruction"`
	ConversationHistory  []ConversationTurn  `json:"conversationHistory,omitempty"`
	GeneratedTasks       []string            `json:"generatedTasks,omitempty"`
	PlannerLogPath       string              `json:"plannerLogPath,omitempty"`
	PlannerMetadataPath  string              `json:"plannerMetadataPath,omitempty"`
	ContinueIterationCount int               `json:"continueIterationCount"`
	FinalJudgement       *FinalJudgement     `json:"finalJudgement,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
