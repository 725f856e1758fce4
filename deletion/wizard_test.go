package deletion

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"
)

const masterPassword = "bamboo-flute-master"

type fakeOTPStore struct {
	mutex   sync.Mutex
	codes   map[string]string
	saveErr error
}

func newFakeOTPStore() *fakeOTPStore {
	return &fakeOTPStore{codes: make(map[string]string)}
}

func (s *fakeOTPStore) Save(_ context.Context, email, code string, _ time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.codes[email] = code
	return nil
}

func (s *fakeOTPStore) Verify(_ context.Context, email, code string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if stored, ok := s.codes[email]; ok && stored == code {
		delete(s.codes, email)
		return true, nil
	}
	return false, nil
}

type fakeMailer struct {
	mutex sync.Mutex
	sent  map[string]string
	err   error
}

func (m *fakeMailer) SendOTP(_ context.Context, to, code string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.sent == nil {
		m.sent = make(map[string]string)
	}
	m.sent[to] = code
	return nil
}

func (m *fakeMailer) last(to string) string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.sent[to]
}

var testQuestions = []Question{
	{ID: "village", Prompt: "Where was the first workshop?", Accept: []string{"Pilibhit"}},
	{ID: "wood", Prompt: "Which bamboo do we use for bansuri?", Accept: []string{"assam bamboo", "nalli"}},
	{ID: "founder", Prompt: "Who founded the company?", Accept: []string{"Prakash Jain"}},
}

var correctAnswers = map[string]string{
	"village": "pilibhit",
	"wood":    "We use Assam-bamboo!",
	"founder": "Shri Prakash  Jain",
}

type harness struct {
	wizard  *Wizard
	store   *fakeOTPStore
	mailer  *fakeMailer
	deletes atomic.Int32
	reasons chan string
	closed  atomic.Int32
}

func fastTimings() Timings {
	return Timings{
		DeleteDuration:  150 * time.Millisecond,
		TickInterval:    5 * time.Millisecond,
		OTPAdvanceDelay: 10 * time.Millisecond,
		SuccessHold:     50 * time.Millisecond,
	}
}

func newHarness(t *testing.T, timings Timings) *harness {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(masterPassword), bcrypt.MinCost)
	require.NoError(t, err)

	h := &harness{
		store:   newFakeOTPStore(),
		mailer:  &fakeMailer{},
		reasons: make(chan string, 4),
	}
	config := Config{
		PasswordHash: hash,
		Questions:    testQuestions,
		OTPTTL:       time.Minute,
		Timings:      timings,
	}
	require.NoError(t, config.Validate())

	h.wizard = New("workshop.png", config, Deps{
		OTP:    h.store,
		Mailer: h.mailer,
		OnDelete: func(reason string) {
			h.deletes.Add(1)
			h.reasons <- reason
		},
		OnClose: func() { h.closed.Add(1) },
	})
	t.Cleanup(func() { _ = h.wizard.Close() })
	return h
}

// toQuestions drives the wizard through password, reason and OTP.
func (h *harness) toQuestions(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.wizard.SubmitPassword(masterPassword))
	require.NoError(t, h.wizard.SelectReason("Duplicate image"))
	require.NoError(t, h.wizard.SubmitEmail(ctx, "Owner@Example.com"))
	require.NoError(t, h.wizard.SubmitOTP(ctx, h.mailer.last("owner@example.com")))
	require.Eventually(t, func() bool {
		return h.wizard.Snapshot().State == StateQuestions
	}, time.Second, 5*time.Millisecond)
}

func TestWrongPasswordStaysOnPasswordStep(t *testing.T) {
	h := newHarness(t, fastTimings())

	for _, attempt := range []string{"x", "", "BAMBOO-FLUTE-MASTER", masterPassword + " "} {
		err := h.wizard.SubmitPassword(attempt)
		require.ErrorIs(t, err, ErrIncorrectPassword)
		snap := h.wizard.Snapshot()
		require.Equal(t, StatePassword, snap.State)
		require.NotEmpty(t, snap.Error)
	}

	require.NoError(t, h.wizard.SubmitPassword(masterPassword))
	snap := h.wizard.Snapshot()
	require.Equal(t, StateReason, snap.State)
	require.Empty(t, snap.Error)
	require.Zero(t, h.deletes.Load())
}

func TestReasonMustBeFromTheList(t *testing.T) {
	h := newHarness(t, fastTimings())
	require.NoError(t, h.wizard.SubmitPassword(masterPassword))

	require.ErrorIs(t, h.wizard.SelectReason(""), ErrReasonRequired)
	require.ErrorIs(t, h.wizard.SelectReason("because"), ErrReasonRequired)
	require.Equal(t, StateReason, h.wizard.Snapshot().State)

	require.NoError(t, h.wizard.SelectReason("Other"))
	snap := h.wizard.Snapshot()
	require.Equal(t, StateOTP, snap.State)
	require.Equal(t, OTPEnterEmail, snap.OTPStep)
	require.Equal(t, "Other", snap.Reason)
}

func TestEmailStepSurfacesCollaboratorErrors(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fastTimings())
	require.NoError(t, h.wizard.SubmitPassword(masterPassword))
	require.NoError(t, h.wizard.SelectReason("Other"))

	require.ErrorIs(t, h.wizard.SubmitEmail(ctx, "not-an-address"), ErrInvalidEmail)

	h.store.saveErr = errors.New("redis: connection refused")
	err := h.wizard.SubmitEmail(ctx, "owner@example.com")
	require.ErrorContains(t, err, "connection refused")
	snap := h.wizard.Snapshot()
	require.Equal(t, OTPEnterEmail, snap.OTPStep)
	require.Contains(t, snap.Error, "connection refused")

	h.store.saveErr = nil
	h.mailer.err = errors.New("535 authentication failed")
	err = h.wizard.SubmitEmail(ctx, "owner@example.com")
	require.ErrorContains(t, err, "535 authentication failed")
	require.Equal(t, OTPEnterEmail, h.wizard.Snapshot().OTPStep)

	h.mailer.err = nil
	require.NoError(t, h.wizard.SubmitEmail(ctx, "owner@example.com"))
	snap = h.wizard.Snapshot()
	require.Equal(t, OTPVerify, snap.OTPStep)
	require.Empty(t, snap.Error)
	require.Len(t, h.mailer.last("owner@example.com"), 6)
}

func TestOTPVerification(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fastTimings())
	require.NoError(t, h.wizard.SubmitPassword(masterPassword))
	require.NoError(t, h.wizard.SelectReason("Other"))
	require.NoError(t, h.wizard.SubmitEmail(ctx, "owner@example.com"))
	code := h.mailer.last("owner@example.com")

	require.ErrorIs(t, h.wizard.SubmitOTP(ctx, "12ab56"), ErrInvalidCode)
	require.ErrorIs(t, h.wizard.SubmitOTP(ctx, "12345"), ErrInvalidCode)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	require.ErrorIs(t, h.wizard.SubmitOTP(ctx, wrong), ErrInvalidCode)
	snap := h.wizard.Snapshot()
	require.Equal(t, OTPVerify, snap.OTPStep)
	require.Equal(t, "Invalid or expired code.", snap.Error)

	require.NoError(t, h.wizard.SubmitOTP(ctx, code))
	require.Equal(t, OTPVerified, h.wizard.Snapshot().OTPStep)
	require.Eventually(t, func() bool {
		return h.wizard.Snapshot().State == StateQuestions
	}, time.Second, 5*time.Millisecond)
}

func TestQuestionsRequireEveryAnswer(t *testing.T) {
	h := newHarness(t, fastTimings())
	h.toQuestions(t)

	verdict, err := h.wizard.Answer("village", "PILIBHIT.")
	require.NoError(t, err)
	require.Equal(t, Correct, verdict)

	verdict, err = h.wizard.Answer("wood", "teak")
	require.NoError(t, err)
	require.Equal(t, Incorrect, verdict)

	verdict, err = h.wizard.Answer("founder", "  ")
	require.NoError(t, err)
	require.Equal(t, Neutral, verdict)

	require.False(t, h.wizard.AllAnswersCorrect())
	require.Equal(t, map[string]Verdict{"village": Correct, "wood": Incorrect, "founder": Neutral}, h.wizard.Verdicts())
	require.ErrorIs(t, h.wizard.SubmitAnswers(map[string]string{"wood": "nalli"}), ErrAnswersIncorrect)
	require.Equal(t, StateQuestions, h.wizard.Snapshot().State)

	_, err = h.wizard.Answer("unknown", "x")
	require.Error(t, err)

	require.NoError(t, h.wizard.SubmitAnswers(correctAnswers))
	require.Equal(t, StateDeleting, h.wizard.Snapshot().State)
}

func TestCompletedRunDeletesExactlyOnce(t *testing.T) {
	timings := fastTimings()
	timings.SuccessHold = 300 * time.Millisecond
	h := newHarness(t, timings)
	h.toQuestions(t)
	require.NoError(t, h.wizard.SubmitAnswers(correctAnswers))

	select {
	case reason := <-h.reasons:
		require.Equal(t, "Duplicate image", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("deletion callback was never invoked")
	}

	require.Eventually(t, func() bool {
		return h.wizard.Snapshot().State == StateSuccess
	}, time.Second, 2*time.Millisecond)
	require.Equal(t, float64(100), h.wizard.Snapshot().Progress)
	require.ErrorIs(t, h.wizard.Stop(), ErrWrongState)

	// success auto-closes and resets
	require.Eventually(t, func() bool {
		return h.wizard.Snapshot().State == StateClosed
	}, time.Second, 5*time.Millisecond)
	snap := h.wizard.Snapshot()
	require.Empty(t, snap.Reason)
	require.Empty(t, snap.Email)
	require.Zero(t, snap.Progress)
	require.Equal(t, int32(1), h.deletes.Load())
	require.Equal(t, int32(1), h.closed.Load())
}

func TestStopDuringDeletionNeverDeletes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	timings := fastTimings()
	timings.DeleteDuration = time.Second
	h := newHarness(t, timings)
	h.toQuestions(t)
	require.NoError(t, h.wizard.SubmitAnswers(correctAnswers))

	require.Eventually(t, func() bool {
		return h.wizard.Snapshot().Progress >= 40
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.wizard.Stop())
	require.Equal(t, StateClosed, h.wizard.Snapshot().State)

	time.Sleep(timings.DeleteDuration)
	require.Zero(t, h.deletes.Load())
	require.Equal(t, StateClosed, h.wizard.Snapshot().State)
}

func TestProgressIsMonotonicWhileDeleting(t *testing.T) {
	timings := fastTimings()
	timings.DeleteDuration = 400 * time.Millisecond
	h := newHarness(t, timings)
	h.toQuestions(t)
	require.NoError(t, h.wizard.SubmitAnswers(correctAnswers))

	last := 0.0
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := h.wizard.Snapshot()
		if snap.State != StateDeleting {
			break
		}
		require.GreaterOrEqual(t, snap.Progress, last)
		require.LessOrEqual(t, snap.Progress, 100.0)
		last = snap.Progress
		time.Sleep(10 * time.Millisecond)
	}
	require.Greater(t, last, 0.0)
}

func TestBackNavigation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fastTimings())

	require.NoError(t, h.wizard.SubmitPassword(masterPassword))
	require.NoError(t, h.wizard.Back())
	require.Equal(t, StatePassword, h.wizard.Snapshot().State)

	require.NoError(t, h.wizard.SubmitPassword(masterPassword))
	require.NoError(t, h.wizard.SelectReason("Other"))
	require.NoError(t, h.wizard.Back())
	require.Equal(t, StateReason, h.wizard.Snapshot().State)

	require.NoError(t, h.wizard.SelectReason("Other"))
	require.NoError(t, h.wizard.SubmitEmail(ctx, "owner@example.com"))
	require.NoError(t, h.wizard.Back())
	snap := h.wizard.Snapshot()
	require.Equal(t, StateOTP, snap.State)
	require.Equal(t, OTPEnterEmail, snap.OTPStep)

	h.toQuestionsFromEmail(t)
	require.NoError(t, h.wizard.Back())
	snap = h.wizard.Snapshot()
	require.Equal(t, StateOTP, snap.State)
	require.Equal(t, OTPEnterEmail, snap.OTPStep)
}

func (h *harness) toQuestionsFromEmail(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.wizard.SubmitEmail(ctx, "owner@example.com"))
	require.NoError(t, h.wizard.SubmitOTP(ctx, h.mailer.last("owner@example.com")))
	require.Eventually(t, func() bool {
		return h.wizard.Snapshot().State == StateQuestions
	}, time.Second, 5*time.Millisecond)
}

func TestBackOnPasswordCancels(t *testing.T) {
	h := newHarness(t, fastTimings())
	require.NoError(t, h.wizard.Back())
	require.Equal(t, StateClosed, h.wizard.Snapshot().State)
	require.Equal(t, int32(1), h.closed.Load())

	require.NoError(t, h.wizard.Open())
	require.Equal(t, StatePassword, h.wizard.Snapshot().State)
}

func TestCloseDuringOTPDelayNeverShowsQuestions(t *testing.T) {
	ctx := context.Background()
	timings := fastTimings()
	timings.OTPAdvanceDelay = 100 * time.Millisecond
	h := newHarness(t, timings)

	require.NoError(t, h.wizard.SubmitPassword(masterPassword))
	require.NoError(t, h.wizard.SelectReason("Other"))
	require.NoError(t, h.wizard.SubmitEmail(ctx, "owner@example.com"))
	require.NoError(t, h.wizard.SubmitOTP(ctx, h.mailer.last("owner@example.com")))
	require.NoError(t, h.wizard.Close())

	time.Sleep(2 * timings.OTPAdvanceDelay)
	require.Equal(t, StateClosed, h.wizard.Snapshot().State)
}

func TestOperationsOutOfOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, fastTimings())

	require.ErrorIs(t, h.wizard.SelectReason("Other"), ErrWrongState)
	require.ErrorIs(t, h.wizard.SubmitEmail(ctx, "owner@example.com"), ErrWrongState)
	require.ErrorIs(t, h.wizard.SubmitOTP(ctx, "123456"), ErrWrongState)
	require.ErrorIs(t, h.wizard.SubmitAnswers(correctAnswers), ErrWrongState)
	require.ErrorIs(t, h.wizard.Stop(), ErrWrongState)
	require.ErrorIs(t, h.wizard.Open(), ErrWrongState)
	require.Zero(t, h.deletes.Load())
}

func TestProgress(t *testing.T) {
	total := 30 * time.Second
	require.Equal(t, 0.0, Progress(0, total))
	require.Equal(t, 0.0, Progress(-time.Second, total))
	require.InDelta(t, 40.0, Progress(12*time.Second, total), 1e-9)
	require.Equal(t, 100.0, Progress(total, total))
	require.Equal(t, 100.0, Progress(time.Hour, total))
	require.Equal(t, 100.0, Progress(time.Second, 0))
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Regexp(t, `^[0-9]{6}$`, code)
	}
}

func TestConfigValidate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(masterPassword), bcrypt.MinCost)
	require.NoError(t, err)

	require.Error(t, Config{PasswordHash: []byte("plain"), Questions: testQuestions}.Validate())
	require.Error(t, Config{PasswordHash: hash}.Validate())
	require.Error(t, Config{PasswordHash: hash, Questions: []Question{{ID: "q", Prompt: "?"}}}.Validate())
	require.NoError(t, Config{PasswordHash: hash, Questions: testQuestions}.Validate())
}
