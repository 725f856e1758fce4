package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/pjcompanyofficial/PJ-ECS/audit"
	"github.com/pjcompanyofficial/PJ-ECS/deletion"
	"github.com/pjcompanyofficial/PJ-ECS/gallery"
	"github.com/pjcompanyofficial/PJ-ECS/models"
	"github.com/pjcompanyofficial/PJ-ECS/rate"
)

const commitTimeout = 10 * time.Second

func handleStartDeletion(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	var request models.StartDeletionRequest
	if err := decodeBody(w, r, &request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE, err)
		return
	}

	img, err := state.gallery.Get(r.Context(), request.ImageId)
	if errors.Is(err, gallery.ErrNotFound) {
		respondWithErr(w, http.StatusNotFound, "image not found", "deletion requested for unknown image", err)
		return
	}
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to get image", err)
		return
	}
	if state.sessions.DeletionPending(img.ID) {
		respondWithErr(w, http.StatusConflict, "a deletion dialog for this image is already open", "duplicate deletion dialog", nil)
		return
	}

	sessionId := GenerateSessionId()
	if sessionId == "" {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate session ID", errors.New("failed to generate session ID"))
		return
	}

	var wizard *deletion.Wizard
	wizard = deletion.New(img.Name, state.deletionConfig, deletion.Deps{
		OTP:     state.otpStorage,
		Mailer:  state.mailer,
		Limiter: state.limiter,
		OnDelete: func(reason string) {
			commitDeletion(state, img, wizard.Snapshot().Email, reason)
		},
		OnClose: func() {
			state.sessions.RemoveDeletion(sessionId)
		},
	})

	token, err := state.tokenCreator.CreateSessionToken(SessionKindDeletion, sessionId)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ERR_TOKEN_CREATION, ERR_TOKEN_CREATION, err)
		return
	}
	state.sessions.AddDeletion(sessionId, img.ID, wizard)

	slog.Info("Deletion dialog opened", "session_id", sessionId, "image_id", img.ID)
	response := models.SessionResponse{Token: token, State: wizard.Snapshot()}
	if err := writeJSON(w, http.StatusCreated, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

// commitDeletion removes the image and records why. It runs once the timed
// deletion reached 100%, after the request that started it is long gone.
func commitDeletion(state *ServerState, img gallery.Image, email, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()

	if err := state.gallery.Delete(ctx, img.ID); err != nil && !errors.Is(err, gallery.ErrNotFound) {
		slog.Error("Failed to delete image", "image_id", img.ID, "error", err)
		return
	}
	if err := state.auditLog.Record(ctx, audit.NewEntry(img.ID, img.Name, reason, email)); err != nil {
		slog.Error("Failed to record deletion", "image_id", img.ID, "error", err)
	}
	slog.Info("Image deleted", "image_id", img.ID, "reason", reason)
}

func lookupDeletion(state *ServerState, w http.ResponseWriter, r *http.Request) (*deletionSession, string, bool) {
	sessionId, err := authorizeSession(state, r, SessionKindDeletion)
	if err != nil {
		respondWithErr(w, http.StatusUnauthorized, ERR_UNAUTHORIZED, ERR_UNAUTHORIZED, err)
		return nil, "", false
	}
	session, err := state.sessions.Deletion(sessionId)
	if err != nil {
		respondWithErr(w, http.StatusNotFound, err.Error(), "deletion session lookup failed", err)
		return nil, "", false
	}
	return session, sessionId, true
}

func handleDeletionState(state *ServerState, w http.ResponseWriter, r *http.Request) {
	session, _, ok := lookupDeletion(state, w, r)
	if !ok {
		return
	}
	if err := writeJSON(w, http.StatusOK, models.SessionResponse{State: session.wizard.Snapshot()}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleDeletionStep(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	session, sessionId, ok := lookupDeletion(state, w, r)
	if !ok {
		return
	}

	var request models.DeletionStepRequest
	if err := decodeBody(w, r, &request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE, err)
		return
	}

	step := mux.Vars(r)["step"]
	wizard := session.wizard
	ctx := r.Context()
	slog.Debug("Deletion step", "session_id", sessionId, "step", step)

	var err error
	switch step {
	case "password":
		err = wizard.SubmitPassword(request.Password)
	case "reason":
		err = wizard.SelectReason(request.Reason)
	case "email":
		err = wizard.SubmitEmail(ctx, request.Email)
	case "otp":
		err = wizard.SubmitOTP(ctx, request.Code)
	case "answer":
		verdict, err := wizard.Answer(request.QuestionId, request.Answer)
		if err != nil {
			respondWithStepErr(w, deletionStatus(err), wizard.Snapshot(), err)
			return
		}
		response := models.AnswerResponse{QuestionId: request.QuestionId, Verdict: verdict.String()}
		if err := writeJSON(w, http.StatusOK, response); err != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		}
		return
	case "answers":
		err = wizard.SubmitAnswers(request.Answers)
	case "back":
		err = wizard.Back()
	case "stop":
		err = wizard.Stop()
	case "close":
		err = wizard.Close()
	default:
		respondWithErr(w, http.StatusNotFound, ERR_UNKNOWN_STEP, ERR_UNKNOWN_STEP, errors.New(step))
		return
	}

	if err != nil {
		respondWithStepErr(w, deletionStatus(err), wizard.Snapshot(), err)
		return
	}
	if err := writeJSON(w, http.StatusOK, models.SessionResponse{State: wizard.Snapshot()}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func deletionStatus(err error) int {
	switch {
	case errors.Is(err, deletion.ErrWrongState),
		errors.Is(err, deletion.ErrBusy),
		errors.Is(err, deletion.ErrCommitted):
		return http.StatusConflict
	case errors.Is(err, deletion.ErrClosed):
		return http.StatusGone
	case errors.Is(err, rate.ErrTooSoon):
		return http.StatusTooManyRequests
	case errors.Is(err, deletion.ErrIncorrectPassword),
		errors.Is(err, deletion.ErrReasonRequired),
		errors.Is(err, deletion.ErrInvalidEmail),
		errors.Is(err, deletion.ErrInvalidCode),
		errors.Is(err, deletion.ErrAnswersIncorrect),
		errors.Is(err, deletion.ErrUnknownQuestion):
		return http.StatusBadRequest
	default:
		// the OTP store or the mail server failed
		return http.StatusBadGateway
	}
}

// respondWithStepErr answers a rejected wizard step with the current state
// so the client can render the inline error.
func respondWithStepErr(w http.ResponseWriter, code int, snapshot any, e error) {
	slog.Warn("Wizard step rejected", "error", e, "status_code", code)
	response := models.SessionResponse{State: snapshot, Error: e.Error()}
	if err := writeJSON(w, code, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}
