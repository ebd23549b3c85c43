package ingest

import "errors"

var (
	// ErrNoCaptions means the video exists but has no caption track.
	ErrNoCaptions = errors.New("no captions available for video")

	// ErrEmptyPage means a fetched page yielded no readable text.
	ErrEmptyPage = errors.New("no readable text on page")

	// ErrBadRepoURL means the URL does not name an owner/repo pair.
	ErrBadRepoURL = errors.New("invalid repository url")

	// ErrNoGitHubToken means repository ingestion is not configured.
	ErrNoGitHubToken = errors.New("github access token not configured")

	// ErrNoText means a document contained no extractable text.
	ErrNoText = errors.New("no text extracted from document")
)
