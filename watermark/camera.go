package watermark

import (
	"context"
	"errors"
	"image"
	"sync"
)

var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrCameraInUse      = errors.New("camera is already in use")
	ErrNoFrame          = errors.New("no frame received from the camera yet")
	ErrStreamClosed     = errors.New("camera stream is closed")
)

// Camera hands out exclusive access to a video capture device.
type Camera interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open capture session. Close releases the device and may be
// called more than once.
type Stream interface {
	Frame() (image.Image, error)
	Close() error
}

// RemoteCamera is a Camera whose frames are produced elsewhere, typically
// by a browser that owns the physical device and posts its live frames.
// The remote side reports whether the user granted access.
type RemoteCamera struct {
	mutex  sync.Mutex
	denied bool
	stream *remoteStream
}

func NewRemoteCamera() *RemoteCamera {
	return &RemoteCamera{}
}

// Grant records that the user allowed access to the device.
func (c *RemoteCamera) Grant() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.denied = false
}

// Deny records that the user refused access. Opens fail until Grant.
func (c *RemoteCamera) Deny() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.denied = true
}

func (c *RemoteCamera) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.denied {
		return nil, ErrPermissionDenied
	}
	if c.stream != nil {
		return nil, ErrCameraInUse
	}
	c.stream = &remoteStream{camera: c}
	return c.stream, nil
}

// PushFrame replaces the live frame of the open stream.
func (c *RemoteCamera) PushFrame(img image.Image) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.stream == nil {
		return ErrStreamClosed
	}
	c.stream.frame = img
	return nil
}

// InUse reports whether a stream is currently held.
func (c *RemoteCamera) InUse() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stream != nil
}

type remoteStream struct {
	camera *RemoteCamera
	frame  image.Image
	closed bool
}

func (s *remoteStream) Frame() (image.Image, error) {
	s.camera.mutex.Lock()
	defer s.camera.mutex.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}
	if s.frame == nil {
		return nil, ErrNoFrame
	}
	return s.frame, nil
}

func (s *remoteStream) Close() error {
	s.camera.mutex.Lock()
	defer s.camera.mutex.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.frame = nil
	if s.camera.stream == s {
		s.camera.stream = nil
	}
	return nil
}
