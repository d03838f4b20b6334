package workflow

// Trigger names a user action that may move a record to another state
type Trigger string

const (
	TriggerApprove              Trigger = "APPROVE"
	TriggerReject               Trigger = "REJECT"
	TriggerEditAndApprove       Trigger = "EDIT_AND_APPROVE"
	TriggerRequestClarification Trigger = "REQUEST_CLARIFICATION"
	TriggerAnswerClarification  Trigger = "ANSWER_CLARIFICATION"
	TriggerComplete             Trigger = "COMPLETE"
)

func (t Trigger) String() string {
	return string(t)
}
