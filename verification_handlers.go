package main

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pjcompanyofficial/PJ-ECS/images"
	"github.com/pjcompanyofficial/PJ-ECS/models"
	"github.com/pjcompanyofficial/PJ-ECS/watermark"
)

func handleStartVerification(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	sessionId := GenerateSessionId()
	if sessionId == "" {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate session ID", errors.New("failed to generate session ID"))
		return
	}

	camera := watermark.NewRemoteCamera()
	verifier := watermark.New(watermark.Deps{
		Camera:  camera,
		Routine: state.verificationClient,
		Records: state.records,
	}, state.verifierConfig)

	token, err := state.tokenCreator.CreateSessionToken(SessionKindVerification, sessionId)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ERR_TOKEN_CREATION, ERR_TOKEN_CREATION, err)
		return
	}
	state.sessions.AddVerification(sessionId, verifier, camera)

	slog.Info("Document verification opened", "session_id", sessionId)
	response := models.SessionResponse{Token: token, State: verifier.Snapshot()}
	if err := writeJSON(w, http.StatusCreated, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func lookupVerification(state *ServerState, w http.ResponseWriter, r *http.Request) (*verificationSession, string, bool) {
	sessionId, err := authorizeSession(state, r, SessionKindVerification)
	if err != nil {
		respondWithErr(w, http.StatusUnauthorized, ERR_UNAUTHORIZED, ERR_UNAUTHORIZED, err)
		return nil, "", false
	}
	session, err := state.sessions.Verification(sessionId)
	if err != nil {
		respondWithErr(w, http.StatusNotFound, err.Error(), "verification session lookup failed", err)
		return nil, "", false
	}
	return session, sessionId, true
}

func handleVerificationState(state *ServerState, w http.ResponseWriter, r *http.Request) {
	session, _, ok := lookupVerification(state, w, r)
	if !ok {
		return
	}
	if err := writeJSON(w, http.StatusOK, models.SessionResponse{State: session.verifier.Snapshot()}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleVerificationStep(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	session, sessionId, ok := lookupVerification(state, w, r)
	if !ok {
		return
	}

	var request models.VerificationStepRequest
	if err := decodeBody(w, r, &request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE, err)
		return
	}

	step := mux.Vars(r)["step"]
	verifier := session.verifier
	ctx := r.Context()
	slog.Debug("Verification step", "session_id", sessionId, "step", step)

	var err error
	switch step {
	case "camera":
		session.camera.Grant()
		err = verifier.ChooseCamera(ctx)
	case "camera-denied":
		// the browser refused the device; the verifier raises its alert
		session.camera.Deny()
		if err = verifier.ChooseCamera(ctx); errors.Is(err, watermark.ErrPermissionDenied) {
			err = nil
		}
	case "frame":
		var decoded images.Decoded
		decoded, err = images.DecodeDataURI(request.DataURI)
		if err == nil {
			err = session.camera.PushFrame(decoded.Image)
		}
	case "capture":
		_, err = verifier.Capture(ctx)
	case "upload":
		_, err = verifier.Upload(ctx, request.DataURI)
	case "back":
		err = verifier.Back()
	case "retry":
		err = verifier.TryAgain()
	case "close":
		err = verifier.Close()
		state.sessions.RemoveVerification(sessionId)
	default:
		respondWithErr(w, http.StatusNotFound, ERR_UNKNOWN_STEP, ERR_UNKNOWN_STEP, errors.New(step))
		return
	}

	if err != nil {
		respondWithStepErr(w, verificationStatus(err), verifier.Snapshot(), err)
		return
	}
	if err := writeJSON(w, http.StatusOK, models.SessionResponse{State: verifier.Snapshot()}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func verificationStatus(err error) int {
	switch {
	case errors.Is(err, watermark.ErrWrongState),
		errors.Is(err, watermark.ErrBusy),
		errors.Is(err, watermark.ErrCameraInUse),
		errors.Is(err, watermark.ErrStreamClosed),
		errors.Is(err, watermark.ErrNoFrame):
		return http.StatusConflict
	case errors.Is(err, watermark.ErrClosed):
		return http.StatusGone
	case errors.Is(err, watermark.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, images.ErrNotDataURI),
		errors.Is(err, images.ErrUnsupportedFormat):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
