package patrol

import "errors"

// ErrRateLimited indicates the classifier retry budget was exhausted on
// HTTP 429/5xx responses.
var ErrRateLimited = errors.New("classifier rate limit exceeded")

// ErrMalformedResponse indicates the classifier replied with a body that does
// not parse as the verdict schema.
var ErrMalformedResponse = errors.New("malformed classifier response")

// ErrSessionNotFound dikembalikan service ketika sesi tidak ada.
var ErrSessionNotFound = errors.New("session not found")

// ErrAlreadyRunning: sesi yang sama sudah punya run yang hidup di proses ini.
var ErrAlreadyRunning = errors.New("session already running")

// ErrNotResumable: resume hanya untuk sesi url berstatus paused/aborted.
var ErrNotResumable = errors.New("session is not resumable")
