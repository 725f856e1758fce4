// Package deletion implements the secure deletion dialog: a gated wizard
// that must be completed before a gallery image is removed.
//
// The steps are fixed: master password, reason, email OTP, security
// questions, a timed deletion that can still be stopped, and a short
// success screen. The deletion callback runs at most once per open dialog
// and only when the timed step reaches 100%.
package deletion

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const CodeDigits = 6

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

// OTPStore keeps issued codes keyed by email address and enforces expiry.
type OTPStore interface {
	Save(ctx context.Context, email, code string, ttl time.Duration) error
	// Verify reports whether code is the live code for email. A successful
	// verification consumes the code.
	Verify(ctx context.Context, email, code string) (bool, error)
}

type EmailSender interface {
	SendOTP(ctx context.Context, to, code string) error
}

type Limiter interface {
	Allow(ctx context.Context, email string) error
}

type Timings struct {
	DeleteDuration  time.Duration
	TickInterval    time.Duration
	OTPAdvanceDelay time.Duration
	SuccessHold     time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		DeleteDuration:  30 * time.Second,
		TickInterval:    50 * time.Millisecond,
		OTPAdvanceDelay: 500 * time.Millisecond,
		SuccessHold:     3 * time.Second,
	}
}

type Config struct {
	// PasswordHash is the bcrypt hash of the master password.
	PasswordHash []byte
	Reasons      []string
	Questions    []Question
	OTPTTL       time.Duration
	Timings      Timings
}

var DefaultReasons = []string{
	"Duplicate image",
	"Outdated document",
	"Uploaded by mistake",
	"Contains sensitive information",
	"Other",
}

func (c Config) Validate() error {
	if _, err := bcrypt.Cost(c.PasswordHash); err != nil {
		return fmt.Errorf("master password hash: %w", err)
	}
	if len(c.Questions) == 0 {
		return fmt.Errorf("at least one security question is required")
	}
	for _, q := range c.Questions {
		if q.ID == "" || len(q.Accept) == 0 {
			return fmt.Errorf("security question %q needs an id and accepted answers", q.Prompt)
		}
	}
	return nil
}

type Deps struct {
	OTP     OTPStore
	Mailer  EmailSender
	Limiter Limiter
	// OnDelete commits the deletion. It runs without the wizard lock held,
	// so it may read a Snapshot, but must not drive the wizard.
	OnDelete func(reason string)
	// OnClose is told when the dialog closed, for whatever reason.
	OnClose func()
}

type Wizard struct {
	config Config
	deps   Deps
	target string

	mutex    sync.Mutex
	state    State
	otpStep  OTPStep
	request  Request
	answers  map[string]string
	errText  string
	progress float64
	pending  bool
	// committed is set once OnDelete has been handed the reason.
	committed bool
	// generation invalidates timers and in-flight calls of older steps.
	generation uint64
	stopTicker chan struct{}
	timer      *time.Timer
}

// New opens the dialog for target at the password step.
func New(target string, config Config, deps Deps) *Wizard {
	if len(config.Reasons) == 0 {
		config.Reasons = DefaultReasons
	}
	if config.Timings == (Timings{}) {
		config.Timings = DefaultTimings()
	}
	if config.OTPTTL <= 0 {
		config.OTPTTL = 5 * time.Minute
	}

	w := &Wizard{config: config, deps: deps, target: target}
	w.reset()
	w.state = StatePassword
	return w
}

// Open reopens a closed dialog at the password step.
func (w *Wizard) Open() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.state != StateClosed {
		return ErrWrongState
	}
	w.reset()
	w.state = StatePassword
	return nil
}

func (w *Wizard) SubmitPassword(password string) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.state != StatePassword {
		return ErrWrongState
	}
	if err := bcrypt.CompareHashAndPassword(w.config.PasswordHash, []byte(password)); err != nil {
		slog.Warn("Master password rejected", "target", w.target)
		w.errText = "Incorrect master password."
		return ErrIncorrectPassword
	}

	w.errText = ""
	w.state = StateReason
	return nil
}

func (w *Wizard) SelectReason(reason string) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.state != StateReason {
		return ErrWrongState
	}
	if reason == "" || !slices.Contains(w.config.Reasons, reason) {
		w.errText = "Please select a reason."
		return ErrReasonRequired
	}

	w.request.Reason = reason
	w.errText = ""
	w.state = StateOTP
	w.otpStep = OTPEnterEmail
	return nil
}

// SubmitEmail issues a fresh code for email, stores it and mails it.
func (w *Wizard) SubmitEmail(ctx context.Context, email string) error {
	w.mutex.Lock()
	if w.state != StateOTP || w.otpStep != OTPEnterEmail {
		w.mutex.Unlock()
		return ErrWrongState
	}
	if w.pending {
		w.mutex.Unlock()
		return ErrBusy
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		w.errText = "Please enter a valid email address."
		w.mutex.Unlock()
		return ErrInvalidEmail
	}
	email = strings.ToLower(addr.Address)
	w.pending = true
	gen := w.generation
	w.mutex.Unlock()

	err = w.issueCode(ctx, email)

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if gen != w.generation {
		return ErrClosed
	}
	w.pending = false
	if err != nil {
		w.errText = err.Error()
		return err
	}

	w.request.Email = email
	w.request.OTPAttempt = ""
	w.errText = ""
	w.otpStep = OTPVerify
	return nil
}

func (w *Wizard) issueCode(ctx context.Context, email string) error {
	if w.deps.Limiter != nil {
		if err := w.deps.Limiter.Allow(ctx, email); err != nil {
			return err
		}
	}

	code, err := GenerateCode()
	if err != nil {
		return err
	}
	if err := w.deps.OTP.Save(ctx, email, code, w.config.OTPTTL); err != nil {
		return fmt.Errorf("failed to store code: %w", err)
	}
	if err := w.deps.Mailer.SendOTP(ctx, email, code); err != nil {
		return err
	}
	slog.Info("Deletion code issued", "target", w.target, "email", email)
	return nil
}

// SubmitOTP checks the six digit code. On success the checkmark is shown
// for OTPAdvanceDelay before the questions appear.
func (w *Wizard) SubmitOTP(ctx context.Context, code string) error {
	w.mutex.Lock()
	if w.state != StateOTP || w.otpStep != OTPVerify {
		w.mutex.Unlock()
		return ErrWrongState
	}
	if w.pending {
		w.mutex.Unlock()
		return ErrBusy
	}
	code = strings.TrimSpace(code)
	if !codePattern.MatchString(code) {
		w.errText = "Enter the 6 digit code."
		w.request.OTPAttempt = ""
		w.mutex.Unlock()
		return ErrInvalidCode
	}
	w.request.OTPAttempt = code
	email := w.request.Email
	w.pending = true
	gen := w.generation
	w.mutex.Unlock()

	ok, err := w.deps.OTP.Verify(ctx, email, code)

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if gen != w.generation {
		return ErrClosed
	}
	w.pending = false
	w.request.OTPAttempt = ""
	if err != nil {
		w.errText = err.Error()
		return fmt.Errorf("failed to verify code: %w", err)
	}
	if !ok {
		w.errText = "Invalid or expired code."
		return ErrInvalidCode
	}

	w.errText = ""
	w.otpStep = OTPVerified
	w.generation++
	advanceGen := w.generation
	w.timer = time.AfterFunc(w.config.Timings.OTPAdvanceDelay, func() {
		w.mutex.Lock()
		defer w.mutex.Unlock()
		if advanceGen != w.generation || w.state != StateOTP {
			return
		}
		w.state = StateQuestions
	})
	return nil
}

// Answer records the current text for one question and classifies it.
func (w *Wizard) Answer(id, text string) (Verdict, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.state != StateQuestions {
		return Neutral, ErrWrongState
	}
	q, ok := w.question(id)
	if !ok {
		return Neutral, fmt.Errorf("%w %q", ErrUnknownQuestion, id)
	}
	w.answers[id] = text
	return q.Classify(text), nil
}

// SubmitAnswers stores the given answers and starts the timed deletion when
// every answer is correct.
func (w *Wizard) SubmitAnswers(answers map[string]string) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.state != StateQuestions {
		return ErrWrongState
	}
	for id, text := range answers {
		if _, ok := w.question(id); !ok {
			return fmt.Errorf("%w %q", ErrUnknownQuestion, id)
		}
		w.answers[id] = text
	}
	if !AllAnswersCorrect(w.config.Questions, w.answers) {
		w.errText = "Some answers are not correct."
		return ErrAnswersIncorrect
	}

	w.errText = ""
	w.startDeleting()
	return nil
}

// Verdicts classifies the current answer of every question.
func (w *Wizard) Verdicts() map[string]Verdict {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	out := make(map[string]Verdict, len(w.config.Questions))
	for _, q := range w.config.Questions {
		out[q.ID] = q.Classify(w.answers[q.ID])
	}
	return out
}

func (w *Wizard) AllAnswersCorrect() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return AllAnswersCorrect(w.config.Questions, w.answers)
}

// Back returns to the previous step. Back on the password step cancels
// the dialog.
func (w *Wizard) Back() error {
	w.mutex.Lock()
	switch {
	case w.state == StatePassword:
		w.mutex.Unlock()
		return w.Close()
	case w.state == StateReason:
		w.state = StatePassword
	case w.state == StateOTP && w.otpStep == OTPVerify:
		w.otpStep = OTPEnterEmail
		w.request.OTPAttempt = ""
	case w.state == StateOTP && w.otpStep == OTPEnterEmail:
		w.state = StateReason
	case w.state == StateQuestions:
		w.state = StateOTP
		w.otpStep = OTPEnterEmail
		w.answers = make(map[string]string)
	default:
		w.mutex.Unlock()
		return ErrWrongState
	}
	// drop results of anything still in flight for the step we left
	w.generation++
	w.pending = false
	w.errText = ""
	w.mutex.Unlock()
	return nil
}

// Stop aborts the timed deletion. Nothing is deleted.
func (w *Wizard) Stop() error {
	w.mutex.Lock()
	if w.state != StateDeleting {
		w.mutex.Unlock()
		return ErrWrongState
	}
	if w.committed {
		w.mutex.Unlock()
		return ErrCommitted
	}
	slog.Info("Deletion stopped", "target", w.target, "progress", w.progress)
	w.mutex.Unlock()
	return w.Close()
}

// Close cancels every timer and resets the dialog. Closing twice is a no-op.
func (w *Wizard) Close() error {
	w.mutex.Lock()
	if w.state == StateClosed {
		w.mutex.Unlock()
		return nil
	}
	w.cancelTimers()
	w.generation++
	w.reset()
	w.state = StateClosed
	onClose := w.deps.OnClose
	w.mutex.Unlock()

	if onClose != nil {
		onClose()
	}
	return nil
}

func (w *Wizard) Snapshot() Snapshot {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	s := Snapshot{
		State:    w.state,
		OTPStep:  w.otpStep,
		Target:   w.target,
		Reason:   w.request.Reason,
		Email:    w.request.Email,
		Error:    w.errText,
		Progress: w.progress,
		Reasons:  slices.Clone(w.config.Reasons),
	}
	if w.state == StateQuestions {
		for _, q := range w.config.Questions {
			s.Questions = append(s.Questions, QuestionView{
				ID:      q.ID,
				Prompt:  q.Prompt,
				Verdict: q.Classify(w.answers[q.ID]),
			})
		}
	}
	return s
}

// Progress maps elapsed wall-clock time onto 0..100. It is recomputed on
// every tick instead of accumulated so that late ticks never drift.
func Progress(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 100
	}
	p := float64(elapsed) / float64(total) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// GenerateCode returns a random zero padded six digit code.
func GenerateCode() (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(CodeDigits), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeDigits, n.Int64()), nil
}

// ------------------------------------------------------------------------------
// everything below expects w.mutex to be held

func (w *Wizard) startDeleting() {
	w.state = StateDeleting
	w.progress = 0
	w.generation++
	gen := w.generation
	stop := make(chan struct{})
	w.stopTicker = stop

	// time.Now carries a monotonic reading, so time.Since is immune to
	// wall clock changes
	started := time.Now()
	slog.Info("Timed deletion started", "target", w.target, "duration", w.config.Timings.DeleteDuration)
	go w.runProgress(gen, started, stop)
}

func (w *Wizard) runProgress(gen uint64, started time.Time, stop <-chan struct{}) {
	ticker := time.NewTicker(w.config.Timings.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if w.tick(gen, started) {
				return
			}
		}
	}
}

// tick updates the progress and reports whether the ticker is done.
func (w *Wizard) tick(gen uint64, started time.Time) bool {
	w.mutex.Lock()
	if gen != w.generation || w.state != StateDeleting {
		w.mutex.Unlock()
		return true
	}

	w.progress = Progress(time.Since(started), w.config.Timings.DeleteDuration)
	if w.progress < 100 || w.committed {
		w.mutex.Unlock()
		return false
	}

	w.committed = true
	w.stopTicker = nil
	reason := w.request.Reason
	w.mutex.Unlock()

	slog.Info("Deletion committed", "target", w.target, "reason", reason)
	if w.deps.OnDelete != nil {
		w.deps.OnDelete(reason)
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if gen != w.generation {
		// closed while the callback ran
		return true
	}
	w.state = StateSuccess
	w.timer = time.AfterFunc(w.config.Timings.SuccessHold, func() {
		w.mutex.Lock()
		current := w.generation == gen && w.state == StateSuccess
		w.mutex.Unlock()
		if current {
			_ = w.Close()
		}
	})
	return true
}

func (w *Wizard) cancelTimers() {
	if w.stopTicker != nil {
		close(w.stopTicker)
		w.stopTicker = nil
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Wizard) reset() {
	w.otpStep = OTPEnterEmail
	w.request = Request{TargetName: w.target}
	w.answers = make(map[string]string)
	w.errText = ""
	w.progress = 0
	w.pending = false
	w.committed = false
}

func (w *Wizard) question(id string) (Question, bool) {
	for _, q := range w.config.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}
