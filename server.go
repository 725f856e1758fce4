package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/pjcompanyofficial/PJ-ECS/audit"
	"github.com/pjcompanyofficial/PJ-ECS/deletion"
	"github.com/pjcompanyofficial/PJ-ECS/document"
	"github.com/pjcompanyofficial/PJ-ECS/gallery"
	"github.com/pjcompanyofficial/PJ-ECS/models"
	"github.com/pjcompanyofficial/PJ-ECS/watermark"
)

const ErrorInternal = "error:internal"
const ERR_MARSHAL = "failed to marshal response message"
const ERR_DECODE = "failed to decode request body"
const ERR_TOKEN_CREATION = "failed to create session token"
const ERR_UNAUTHORIZED = "missing or invalid session token"
const ERR_UNKNOWN_STEP = "unknown wizard step"

const maxBodyBytes = 8 << 20

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UseTls         bool   `json:"use_tls,omitempty"`
	TlsPrivKeyPath string `json:"tls_priv_key_path,omitempty"`
	TlsCertPath    string `json:"tls_cert_path,omitempty"`
	StaticPath     string `json:"static_path,omitempty"`
}

type ServerState struct {
	gallery            gallery.Store
	records            document.RecordsProvider
	auditLog           audit.Log
	otpStorage         OTPStorage
	mailer             deletion.EmailSender
	limiter            deletion.Limiter
	tokenCreator       SessionTokenCreator
	sessions           *SessionRegistry
	deletionConfig     deletion.Config
	verificationClient VerificationClient
	verifierConfig     watermark.Config
}

type SpaHandler struct {
	staticPath string
	indexPath  string
}

type Server struct {
	server *http.Server
	config ServerConfig
}

func (s *Server) ListenAndServe() error {
	if s.config.UseTls {
		slog.Info("Starting server with TLS", "host", s.config.Host, "port", s.config.Port, "cert", s.config.TlsCertPath, "key", s.config.TlsPrivKeyPath)
		return s.server.ListenAndServeTLS(s.config.TlsCertPath, s.config.TlsPrivKeyPath)
	} else {
		slog.Info("Starting server without TLS", "host", s.config.Host, "port", s.config.Port)
		return s.server.ListenAndServe()
	}
}

func (s *Server) Stop() error {
	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		slog.Error("Error during server shutdown", "error", err)
	} else {
		slog.Info("Server shut down successfully")
	}
	return err
}

// ServeHTTP inspects the URL path to locate a file within the static dir
// on the SPA handler. If a file is found, it will be served. If not, the
// file located at the index path on the SPA handler will be served.
// https://github.com/gorilla/mux?tab=readme-ov-file#serving-single-page-applications
func (h SpaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Join internally call path.Clean to prevent directory traversal
	path := filepath.Join(h.staticPath, r.URL.Path)
	fi, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && fi.IsDir()) {
		http.ServeFile(w, r, filepath.Join(h.staticPath, h.indexPath))
		return
	}

	if err != nil {
		slog.Error("Error stating file", "path", path, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.FileServer(http.Dir(h.staticPath)).ServeHTTP(w, r)
}

func NewServer(state *ServerState, config ServerConfig) (*Server, error) {
	slog.Info("Creating new server", "host", config.Host, "port", config.Port, "tls", config.UseTls)
	router := mux.NewRouter()

	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		handleHealth(state, w, r)
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/gallery", func(w http.ResponseWriter, r *http.Request) {
		handleListGallery(state, w, r)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/gallery", func(w http.ResponseWriter, r *http.Request) {
		handleUploadImage(state, w, r)
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/gallery/{id}", func(w http.ResponseWriter, r *http.Request) {
		handleGetImage(state, w, r)
	}).Methods(http.MethodGet)

	router.HandleFunc("/api/employees", func(w http.ResponseWriter, r *http.Request) {
		handleListEmployees(state, w, r)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/cards/resolve", func(w http.ResponseWriter, r *http.Request) {
		handleResolveCard(state, w, r)
	})

	router.HandleFunc("/api/deletions", func(w http.ResponseWriter, r *http.Request) {
		handleStartDeletion(state, w, r)
	})
	router.HandleFunc("/api/deletions/state", func(w http.ResponseWriter, r *http.Request) {
		handleDeletionState(state, w, r)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/deletions/{step}", func(w http.ResponseWriter, r *http.Request) {
		handleDeletionStep(state, w, r)
	})

	router.HandleFunc("/api/verifications", func(w http.ResponseWriter, r *http.Request) {
		handleStartVerification(state, w, r)
	})
	router.HandleFunc("/api/verifications/state", func(w http.ResponseWriter, r *http.Request) {
		handleVerificationState(state, w, r)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/verifications/{step}", func(w http.ResponseWriter, r *http.Request) {
		handleVerificationStep(state, w, r)
	})

	router.HandleFunc("/api/audit", func(w http.ResponseWriter, r *http.Request) {
		handleListAudit(state, w, r)
	}).Methods(http.MethodGet)

	slog.Debug("Registered all API routes")

	if config.StaticPath != "" {
		spa := SpaHandler{staticPath: config.StaticPath, indexPath: "index.html"}
		router.PathPrefix("/").Handler(spa)
	}

	addr := fmt.Sprintf("%v:%v", config.Host, config.Port)
	srv := &http.Server{
		Handler: router,
		Addr:    addr,
		// verification can take a while, uploads are up to 5MB
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  30 * time.Second,
	}

	slog.Info("Server created successfully", "address", addr)
	return &Server{
		server: srv,
		config: config,
	}, nil
}

// -----------------------------------------------------------------------------------

func handleHealth(state *ServerState, w http.ResponseWriter, r *http.Request) {
	slog.Debug("Health check request received")
	health := map[string]bool{"ok": true, "verification": true}
	if state.verificationClient != nil {
		if err := state.verificationClient.HealthCheck(r.Context()); err != nil {
			slog.Warn("Verification service unhealthy", "error", err)
			health["verification"] = false
		}
	}
	if err := writeJSON(w, http.StatusOK, health); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

func toImageResponse(img gallery.Image, full bool) models.GalleryImageResponse {
	resp := models.GalleryImageResponse{
		Id:        img.ID,
		Name:      img.Name,
		Thumbnail: img.Thumbnail,
		CreatedAt: img.CreatedAt,
	}
	if full {
		resp.DataURI = img.DataURI
	}
	return resp
}

func handleListGallery(state *ServerState, w http.ResponseWriter, r *http.Request) {
	list, err := state.gallery.List(r.Context())
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to list gallery", err)
		return
	}

	response := make([]models.GalleryImageResponse, 0, len(list))
	for _, img := range list {
		response = append(response, toImageResponse(img, false))
	}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleGetImage(state *ServerState, w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	img, err := state.gallery.Get(r.Context(), id)
	if errors.Is(err, gallery.ErrNotFound) {
		respondWithErr(w, http.StatusNotFound, "image not found", "image not found", err)
		return
	}
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to get image", err)
		return
	}
	if err := writeJSON(w, http.StatusOK, toImageResponse(img, true)); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleUploadImage(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	var request models.GalleryUploadRequest
	if err := decodeBody(w, r, &request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE, err)
		return
	}

	img, err := gallery.NewImage(request.Name, request.DataURI)
	if errors.Is(err, gallery.ErrTooLarge) {
		respondWithErr(w, http.StatusRequestEntityTooLarge, err.Error(), "rejected upload", err)
		return
	}
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, err.Error(), "rejected upload", err)
		return
	}
	if err := state.gallery.Put(r.Context(), img); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to store image", err)
		return
	}

	slog.Info("Image added to gallery", "image_id", img.ID, "name", img.Name)
	if err := writeJSON(w, http.StatusCreated, toImageResponse(img, false)); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func toEmployeeResponse(record document.ReferenceRecord) models.EmployeeResponse {
	return models.EmployeeResponse{
		Name:         record.Name,
		ReferenceId:  record.ReferenceID,
		Address:      record.Address,
		HasReference: record.Reference != "",
	}
}

func handleListEmployees(state *ServerState, w http.ResponseWriter, r *http.Request) {
	records, err := state.records.Records(r.Context())
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to load employee records", err)
		return
	}

	response := make([]models.EmployeeResponse, 0, len(records))
	for _, record := range records {
		response = append(response, toEmployeeResponse(record))
	}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleResolveCard(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	var request models.CardResolveRequest
	if err := decodeBody(w, r, &request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE, err)
		return
	}

	card, err := document.ParseCardLink(request.Link)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, err.Error(), "failed to parse card link", err)
		return
	}

	records, err := state.records.Records(r.Context())
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to load employee records", err)
		return
	}

	response := models.CardResolveResponse{
		Name:      card.Name,
		Date:      card.Date,
		Address:   card.Address,
		Reference: card.Reference,
	}
	if issued, err := document.ParseCardDate(card.Date); err == nil {
		response.IssuedOn = issued.Format("2006-01-02")
	}
	if record, ok := card.Match(records); ok {
		employee := toEmployeeResponse(record)
		response.Matched = true
		response.Employee = &employee
		response.AddressMatches = document.BoolToYesNo(strings.EqualFold(strings.TrimSpace(record.Address), strings.TrimSpace(card.Address)))
	}

	slog.Info("Card resolved", "reference", card.Reference, "matched", response.Matched)
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleListAudit(state *ServerState, w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithErr(w, http.StatusBadRequest, "invalid limit", "invalid audit limit", err)
			return
		}
		limit = n
	}

	entries, err := state.auditLog.List(r.Context(), limit)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to list audit entries", err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	if err := writeJSON(w, http.StatusOK, entries); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

// -----------------------------------------------------------------------------------

func GenerateSessionId() string {
	sessionId := make([]byte, 16)
	if _, err := rand.Read(sessionId); err != nil {
		slog.Error("failed to generate session ID", "error", err)
		return ""
	}
	return fmt.Sprintf("%x", sessionId)
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: no bearer token", ErrInvalidSessionToken)
	}
	return strings.TrimSpace(token), nil
}

func authorizeSession(state *ServerState, r *http.Request, kind string) (string, error) {
	token, err := bearerToken(r)
	if err != nil {
		return "", err
	}
	return state.tokenCreator.ParseSessionToken(token, kind)
}

func respondWithErr(w http.ResponseWriter, code int, responseBody string, logMsg string, e error) {
	slog.Error(logMsg, "error", e, "status_code", code, "response_body", responseBody)
	w.WriteHeader(code)
	if _, err := w.Write([]byte(responseBody)); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

// helpers ------------

func closeRequestBody(r *http.Request) {
	if err := r.Body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}
}

func requirePOST(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		slog.Debug("Non-POST request rejected", "method", r.Method, "path", r.URL.Path)
		respondWithErr(w, http.StatusMethodNotAllowed, "method not allowed", "invalid method", nil)
		return false
	}
	return true
}

// decodeBody decodes a JSON body of bounded size. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON payload", "error", err)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(payload); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
	return nil
}
