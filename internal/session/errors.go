package session

import "errors"

var (
	// ErrAlreadyActive is returned by Start when a session is not idle.
	ErrAlreadyActive = errors.New("voice session already active")
	// ErrNotActive is returned by SendText outside an active session.
	ErrNotActive = errors.New("no active voice session")
	// ErrAborted is returned by Start when Stop or a transport failure ended
	// the attempt before it completed.
	ErrAborted = errors.New("voice session start aborted")
)

const (
	deviceNotice    = "I'm unable to reach the microphone or speakers, Sir. Voice systems remain offline."
	transportNotice = "The voice uplink has been lost, Sir. Reverting to text protocols."
)
