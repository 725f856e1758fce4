package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pjcompanyofficial/PJ-ECS/audit"
	"github.com/pjcompanyofficial/PJ-ECS/deletion"
	"github.com/pjcompanyofficial/PJ-ECS/document"
	"github.com/pjcompanyofficial/PJ-ECS/gallery"
	"github.com/pjcompanyofficial/PJ-ECS/images"
	"github.com/pjcompanyofficial/PJ-ECS/models"
	"github.com/pjcompanyofficial/PJ-ECS/watermark"
)

const testBaseURL = "http://localhost:8081"

const testMasterPassword = "bamboo-flute-master"

var testConfig = ServerConfig{
	Host:           "localhost",
	Port:           8081,
	UseTls:         false,
	TlsCertPath:    "",
	TlsPrivKeyPath: "",
}

var testQuestions = []deletion.Question{
	{ID: "village", Prompt: "Which village is the company from?", Accept: []string{"pilibhit"}},
	{ID: "wood", Prompt: "Which wood are the flutes made of?", Accept: []string{"assam bamboo", "nalli"}},
	{ID: "founder", Prompt: "Who founded the company?", Accept: []string{"prakash jain"}},
}

var testAnswers = map[string]string{
	"village": "Pilibhit",
	"wood":    "Assam Bamboo",
	"founder": "Prakash Jain",
}

// captureMailer keeps the last code sent to every address.
type captureMailer struct {
	mutex sync.Mutex
	sent  map[string]string
}

func (m *captureMailer) SendOTP(_ context.Context, to, code string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.sent == nil {
		m.sent = make(map[string]string)
	}
	m.sent[to] = code
	return nil
}

func (m *captureMailer) code(to string) string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.sent[to]
}

type testEnv struct {
	state  *ServerState
	mailer *captureMailer
	audit  *audit.MemoryLog
}

func newTestState(t *testing.T, employees []document.ReferenceRecord) *testEnv {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testMasterPassword), bcrypt.MinCost)
	require.NoError(t, err)

	tokenCreator, err := NewHmacSessionTokenCreator([]byte("0123456789abcdef0123456789abcdef"), "pj-ecs-test", time.Minute)
	require.NoError(t, err)

	env := &testEnv{mailer: &captureMailer{}, audit: audit.NewMemoryLog()}
	env.state = &ServerState{
		gallery:      gallery.NewMemoryStore(),
		records:      document.NewMemoryRecords(employees),
		auditLog:     env.audit,
		otpStorage:   NewInMemoryOTPStorage(),
		mailer:       env.mailer,
		tokenCreator: tokenCreator,
		sessions:     NewSessionRegistry(),
		deletionConfig: deletion.Config{
			PasswordHash: hash,
			Questions:    testQuestions,
			OTPTTL:       time.Minute,
			Timings: deletion.Timings{
				DeleteDuration:  150 * time.Millisecond,
				TickInterval:    5 * time.Millisecond,
				OTPAdvanceDelay: 10 * time.Millisecond,
				SuccessHold:     50 * time.Millisecond,
			},
		},
		verificationClient: LocalVerificationClient{document.NewReferenceMatcher(document.MatcherConfig{})},
		verifierConfig:     watermark.Config{ResultHold: 300 * time.Millisecond, VerifyTimeout: 5 * time.Second},
	}
	return env
}

func startTestServer(t *testing.T, state *ServerState) *Server {
	t.Helper()

	srv, err := NewServer(state, testConfig)
	require.NoError(t, err)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("server error: %v", err)
		}
	}()

	waitUntilHealthy(t, testBaseURL+"/api/health")
	t.Cleanup(func() {
		state.sessions.CloseAll()
		if err := srv.Stop(); err != nil {
			t.Logf("error shutting down server: %v", err)
		}
	})
	return srv
}

func waitUntilHealthy(t *testing.T, url string) {
	t.Helper()
	const maxAttempts = 50
	for i := 0; i < maxAttempts; i++ {
		if resp, err := http.Get(url); err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server did not start in time")
}

func doJSON[T any](t *testing.T, method, url, token string, payload any) (*http.Response, []byte, *T) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(b)
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var v T
	_ = json.Unmarshal(respBody, &v)
	return resp, respBody, &v
}

func postJSON[T any](t *testing.T, url string, payload any) (*http.Response, []byte, *T) {
	t.Helper()
	return doJSON[T](t, http.MethodPost, url, "", payload)
}

func mustStatus(t *testing.T, resp *http.Response, want int, body []byte) {
	t.Helper()
	require.Equalf(t, want, resp.StatusCode, "body: %s", body)
}

// wizardResponse mirrors models.SessionResponse with the snapshot left
// as loose JSON.
type wizardResponse struct {
	Token string         `json:"token"`
	State map[string]any `json:"state"`
	Error string         `json:"error"`
}

func step(t *testing.T, kind, token, name string, payload any) (*http.Response, []byte, *wizardResponse) {
	t.Helper()
	return doJSON[wizardResponse](t, http.MethodPost, testBaseURL+"/api/"+kind+"/"+name, token, payload)
}

func currentState(t *testing.T, kind, token string) (int, map[string]any) {
	t.Helper()
	resp, _, body := doJSON[wizardResponse](t, http.MethodGet, testBaseURL+"/api/"+kind+"/state", token, nil)
	return resp.StatusCode, body.State
}

func uploadImage(t *testing.T, name string, img image.Image) models.GalleryImageResponse {
	t.Helper()
	request := models.GalleryUploadRequest{Name: name, DataURI: pngDataURI(t, img)}
	resp, body, uploaded := postJSON[models.GalleryImageResponse](t, testBaseURL+"/api/gallery", request)
	mustStatus(t, resp, http.StatusCreated, body)
	require.NotEmpty(t, uploaded.Id)
	return *uploaded
}

func pngDataURI(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return images.EncodeDataURI("image/png", buf.Bytes())
}

func uniformImage(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// checkerImage is a high contrast pattern that never counts as blank.
func checkerImage(cell int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}
