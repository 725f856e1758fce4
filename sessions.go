package main

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pjcompanyofficial/PJ-ECS/deletion"
	"github.com/pjcompanyofficial/PJ-ECS/watermark"
)

var ErrSessionNotFound = errors.New("session not found or already closed")

type deletionSession struct {
	wizard   *deletion.Wizard
	imageId  string
	lastSeen time.Time
}

type verificationSession struct {
	verifier *watermark.Verifier
	camera   *watermark.RemoteCamera
	lastSeen time.Time
}

// SessionRegistry owns the open wizards. Every wizard belongs to exactly
// one browser session and is dropped once it closes.
type SessionRegistry struct {
	mutex         sync.Mutex
	deletions     map[string]*deletionSession
	verifications map[string]*verificationSession
	now           func() time.Time
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		deletions:     make(map[string]*deletionSession),
		verifications: make(map[string]*verificationSession),
		now:           time.Now,
	}
}

func (r *SessionRegistry) AddDeletion(sessionId, imageId string, wizard *deletion.Wizard) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.deletions[sessionId] = &deletionSession{wizard: wizard, imageId: imageId, lastSeen: r.now()}
}

func (r *SessionRegistry) Deletion(sessionId string) (*deletionSession, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s, ok := r.deletions[sessionId]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.lastSeen = r.now()
	return s, nil
}

// RemoveDeletion forgets the session. It does not close the wizard.
func (r *SessionRegistry) RemoveDeletion(sessionId string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.deletions, sessionId)
}

// DeletionPending reports whether an open dialog targets the image.
func (r *SessionRegistry) DeletionPending(imageId string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, s := range r.deletions {
		if s.imageId == imageId {
			return true
		}
	}
	return false
}

func (r *SessionRegistry) AddVerification(sessionId string, verifier *watermark.Verifier, camera *watermark.RemoteCamera) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.verifications[sessionId] = &verificationSession{verifier: verifier, camera: camera, lastSeen: r.now()}
}

func (r *SessionRegistry) Verification(sessionId string) (*verificationSession, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s, ok := r.verifications[sessionId]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.lastSeen = r.now()
	return s, nil
}

func (r *SessionRegistry) RemoveVerification(sessionId string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.verifications, sessionId)
}

// Sweep closes every wizard that has not been touched for maxIdle and
// returns how many were closed.
func (r *SessionRegistry) Sweep(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)
	return r.closeWhere(func(lastSeen time.Time) bool { return lastSeen.Before(cutoff) })
}

// CloseAll closes every open wizard, used on shutdown.
func (r *SessionRegistry) CloseAll() int {
	return r.closeWhere(func(time.Time) bool { return true })
}

func (r *SessionRegistry) closeWhere(match func(lastSeen time.Time) bool) int {
	r.mutex.Lock()
	var wizards []*deletion.Wizard
	for id, s := range r.deletions {
		if match(s.lastSeen) {
			wizards = append(wizards, s.wizard)
			delete(r.deletions, id)
		}
	}
	var verifiers []*watermark.Verifier
	for id, s := range r.verifications {
		if match(s.lastSeen) {
			verifiers = append(verifiers, s.verifier)
			delete(r.verifications, id)
		}
	}
	r.mutex.Unlock()

	// closing calls back into the registry
	for _, w := range wizards {
		if err := w.Close(); err != nil {
			slog.Warn("Failed to close idle deletion dialog", "error", err)
		}
	}
	for _, v := range verifiers {
		if err := v.Close(); err != nil {
			slog.Warn("Failed to close idle verifier", "error", err)
		}
	}

	closed := len(wizards) + len(verifiers)
	if closed > 0 {
		slog.Info("Closed sessions", "count", closed)
	}
	return closed
}
