package deletion

import (
	"encoding/json"
	"errors"
)

type State int

const (
	StatePassword State = iota
	StateReason
	StateOTP
	StateQuestions
	StateDeleting
	StateSuccess
	StateClosed
)

var stateNames = map[State]string{
	StatePassword:  "password",
	StateReason:    "reason",
	StateOTP:       "otp",
	StateQuestions: "questions",
	StateDeleting:  "deleting",
	StateSuccess:   "success",
	StateClosed:    "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// OTPStep is the sub state of StateOTP.
type OTPStep int

const (
	OTPEnterEmail OTPStep = iota
	OTPVerify
	// OTPVerified shows the checkmark until the wizard moves on.
	OTPVerified
)

func (s OTPStep) String() string {
	switch s {
	case OTPVerify:
		return "verify_otp"
	case OTPVerified:
		return "verified"
	default:
		return "enter_email"
	}
}

func (s OTPStep) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

var (
	ErrWrongState        = errors.New("operation not allowed in the current step")
	ErrBusy              = errors.New("a request for this step is still running")
	ErrClosed            = errors.New("dialog was closed")
	ErrCommitted         = errors.New("deletion already committed")
	ErrIncorrectPassword = errors.New("incorrect master password")
	ErrReasonRequired    = errors.New("select a reason for the deletion")
	ErrInvalidEmail      = errors.New("enter a valid email address")
	ErrInvalidCode       = errors.New("invalid or expired code")
	ErrAnswersIncorrect  = errors.New("all security answers must be correct")
	ErrUnknownQuestion   = errors.New("unknown security question")
)

// Request is the deletion request being assembled. It lives only as long
// as the dialog is open.
type Request struct {
	TargetName string `json:"target_name"`
	Reason     string `json:"reason"`
	Email      string `json:"email"`
	OTPAttempt string `json:"-"`
}

type QuestionView struct {
	ID      string  `json:"id"`
	Prompt  string  `json:"prompt"`
	Verdict Verdict `json:"verdict"`
}

// Snapshot is a read-only copy of the wizard for rendering.
type Snapshot struct {
	State     State          `json:"state"`
	OTPStep   OTPStep        `json:"otp_step"`
	Target    string         `json:"target"`
	Reason    string         `json:"reason,omitempty"`
	Email     string         `json:"email,omitempty"`
	Error     string         `json:"error,omitempty"`
	Progress  float64        `json:"progress"`
	Reasons   []string       `json:"reasons"`
	Questions []QuestionView `json:"questions,omitempty"`
}
