package domain

// Inbound message types.
const (
	MsgSubmitAnswer = "SUBMIT_ANSWER"
	MsgPhaseChange  = "PHASE_CHANGE"
	MsgScoreAdjust  = "SCORE_ADJUST"
)

// Outbound message types. MsgPhaseChange is used in both directions.
const (
	MsgAnswerSubmission  = "ANSWER_SUBMISSION"
	MsgAdminAnswerReveal = "ADMIN_ANSWER_REVEAL"
	MsgScoreUpdate       = "SCORE_UPDATE"
	MsgForbidden         = "FORBIDDEN"
	MsgError             = "ERROR"
)
