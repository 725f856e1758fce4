package models

type StartDeletionRequest struct {
	ImageId string `json:"image_id"`
}

// DeletionStepRequest carries the input of one wizard step. Only the field
// belonging to the step is read.
type DeletionStepRequest struct {
	Password   string            `json:"password,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Email      string            `json:"email,omitempty"`
	Code       string            `json:"code,omitempty"`
	QuestionId string            `json:"question_id,omitempty"`
	Answer     string            `json:"answer,omitempty"`
	Answers    map[string]string `json:"answers,omitempty"`
}

type VerificationStepRequest struct {
	DataURI string `json:"data_uri,omitempty"`
}

// SessionResponse is returned by every wizard call. State holds the
// wizard snapshot.
type SessionResponse struct {
	Token string `json:"token,omitempty"`
	State any    `json:"state"`
	Error string `json:"error,omitempty"`
}

type AnswerResponse struct {
	QuestionId string `json:"question_id"`
	Verdict    string `json:"verdict"`
}
