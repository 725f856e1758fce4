// Package watermark implements the document verification wizard: pick an
// input, capture or upload a photo, verify it against the employee
// reference records and show the outcome.
package watermark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pjcompanyofficial/PJ-ECS/document"
	"github.com/pjcompanyofficial/PJ-ECS/images"
)

type State int

const (
	StateChoice State = iota
	StateCamera
	StateVerifying
	StateResult
)

func (s State) String() string {
	switch s {
	case StateCamera:
		return "camera"
	case StateVerifying:
		return "verifying"
	case StateResult:
		return "result"
	default:
		return "choice"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

var (
	ErrWrongState = errors.New("operation not allowed in the current step")
	ErrBusy       = errors.New("a verification is already running")
	ErrClosed     = errors.New("verifier was closed")
)

const permissionAlert = "Camera access was denied. Allow camera access or upload a file instead."

// Routine checks one image against the reference records.
type Routine interface {
	Verify(ctx context.Context, imageData string, records []document.ReferenceRecord) (document.Outcome, error)
}

type Config struct {
	// ResultHold is how long a Blank or Fake result stays up before the
	// wizard returns to the input choice.
	ResultHold time.Duration
	// VerifyTimeout bounds a single routine call. Zero means no bound.
	VerifyTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{ResultHold: 3 * time.Second}
}

type Deps struct {
	Camera  Camera
	Routine Routine
	Records document.RecordsProvider
}

type Snapshot struct {
	State   State             `json:"state"`
	Alert   string            `json:"alert,omitempty"`
	Outcome *document.Outcome `json:"outcome,omitempty"`
	// CanRetry is set for results that offer a manual try again.
	CanRetry bool `json:"can_retry"`
}

type Verifier struct {
	config Config
	deps   Deps

	mutex      sync.Mutex
	state      State
	alert      string
	outcome    *document.Outcome
	stream     Stream
	timer      *time.Timer
	generation uint64
	closed     bool
}

func New(deps Deps, config Config) *Verifier {
	if config.ResultHold <= 0 {
		config.ResultHold = DefaultConfig().ResultHold
	}
	return &Verifier{config: config, deps: deps, state: StateChoice}
}

// ChooseCamera requests the camera. A refusal raises an alert and leaves
// the wizard at the input choice without holding a stream.
func (v *Verifier) ChooseCamera(ctx context.Context) error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if v.closed {
		return ErrClosed
	}
	if v.state != StateChoice {
		return ErrWrongState
	}
	if v.deps.Camera == nil {
		v.alert = permissionAlert
		return ErrPermissionDenied
	}

	stream, err := v.deps.Camera.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			v.alert = permissionAlert
		} else {
			v.alert = fmt.Sprintf("Could not open the camera: %v", err)
		}
		slog.Warn("Camera unavailable", "error", err)
		return err
	}

	v.alert = ""
	v.stream = stream
	v.state = StateCamera
	return nil
}

// Upload verifies a file the user picked, given as a data URI.
func (v *Verifier) Upload(ctx context.Context, dataURI string) (document.Outcome, error) {
	v.mutex.Lock()
	if err := v.ready(StateChoice); err != nil {
		v.mutex.Unlock()
		return document.Outcome{}, err
	}
	if _, _, err := images.ParseDataURI(dataURI); err != nil {
		v.alert = "The selected file could not be read."
		v.mutex.Unlock()
		return document.Outcome{}, err
	}
	v.alert = ""
	return v.verify(ctx, dataURI)
}

// Capture takes the current camera frame at native resolution, releases
// the camera and verifies the still.
func (v *Verifier) Capture(ctx context.Context) (document.Outcome, error) {
	v.mutex.Lock()
	if err := v.ready(StateCamera); err != nil {
		v.mutex.Unlock()
		return document.Outcome{}, err
	}

	frame, err := v.stream.Frame()
	if err != nil {
		// stay on the camera so the user can try again
		v.mutex.Unlock()
		return document.Outcome{}, err
	}
	still, err := images.RasterizePNG(frame)
	if err != nil {
		v.mutex.Unlock()
		return document.Outcome{}, err
	}
	v.releaseStream()
	return v.verify(ctx, still)
}

// Back leaves the camera or a result for the input choice.
func (v *Verifier) Back() error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if v.closed {
		return ErrClosed
	}
	switch v.state {
	case StateCamera:
		v.releaseStream()
	case StateResult:
		v.stopTimer()
		v.outcome = nil
	default:
		return ErrWrongState
	}
	v.generation++
	v.alert = ""
	v.state = StateChoice
	return nil
}

// TryAgain is offered on Approved and Fake results. Blank results time
// out on their own.
func (v *Verifier) TryAgain() error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if v.closed {
		return ErrClosed
	}
	if v.state != StateResult || v.outcome == nil || v.outcome.Status == document.Blank {
		return ErrWrongState
	}
	v.stopTimer()
	v.generation++
	v.outcome = nil
	v.state = StateChoice
	return nil
}

// Close releases the camera and stops every timer. A verification still
// running is abandoned and its result ignored.
func (v *Verifier) Close() error {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if v.closed {
		return nil
	}
	v.releaseStream()
	v.stopTimer()
	v.generation++
	v.closed = true
	v.state = StateChoice
	v.outcome = nil
	v.alert = ""
	return nil
}

func (v *Verifier) Snapshot() Snapshot {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	s := Snapshot{State: v.state, Alert: v.alert}
	if v.outcome != nil {
		out := *v.outcome
		s.Outcome = &out
		s.CanRetry = out.Status != document.Blank
	}
	return s
}

// HoldsCamera reports whether the wizard currently owns a camera stream.
func (v *Verifier) HoldsCamera() bool {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	return v.stream != nil
}

// verify must be entered with v.mutex held; it releases it.
func (v *Verifier) verify(ctx context.Context, imageData string) (document.Outcome, error) {
	v.state = StateVerifying
	v.outcome = nil
	v.generation++
	gen := v.generation
	v.mutex.Unlock()

	outcome := v.runRoutine(ctx, imageData)

	v.mutex.Lock()
	defer v.mutex.Unlock()
	if gen != v.generation {
		return outcome, ErrClosed
	}

	v.outcome = &outcome
	v.state = StateResult
	slog.Info("Document verification finished", "status", outcome.Status.String())

	if outcome.Status != document.Approved {
		v.timer = time.AfterFunc(v.config.ResultHold, func() {
			v.mutex.Lock()
			defer v.mutex.Unlock()
			if gen != v.generation || v.state != StateResult {
				return
			}
			v.timer = nil
			v.outcome = nil
			v.state = StateChoice
		})
	}
	return outcome, nil
}

// runRoutine never fails: any error becomes a Fake outcome carrying the
// error text.
func (v *Verifier) runRoutine(ctx context.Context, imageData string) document.Outcome {
	if v.config.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.config.VerifyTimeout)
		defer cancel()
	}

	var records []document.ReferenceRecord
	if v.deps.Records != nil {
		var err error
		records, err = v.deps.Records.Records(ctx)
		if err != nil {
			slog.Error("Failed to load reference records", "error", err)
			return document.Outcome{Status: document.Fake, Detail: err.Error()}
		}
	}

	outcome, err := v.deps.Routine.Verify(ctx, imageData, records)
	if err != nil {
		slog.Warn("Verification routine failed", "error", err)
		return document.Outcome{Status: document.Fake, Detail: err.Error()}
	}
	return outcome
}

// ------------------------------------------------------------------------------
// everything below expects v.mutex to be held

func (v *Verifier) ready(want State) error {
	switch {
	case v.closed:
		return ErrClosed
	case v.state == StateVerifying:
		return ErrBusy
	case v.state != want:
		return ErrWrongState
	}
	return nil
}

func (v *Verifier) releaseStream() {
	if v.stream == nil {
		return
	}
	if err := v.stream.Close(); err != nil {
		slog.Warn("Failed to release camera", "error", err)
	}
	v.stream = nil
}

func (v *Verifier) stopTimer() {
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
}
