package domain

import "errors"

// ErrGroupNotFound indicates a download was addressed to a group that was never registered
var ErrGroupNotFound = errors.New("download group not found")

// ErrTaskNotFound indicates no pending or in-flight task matches the id
var ErrTaskNotFound = errors.New("download task not found")

// ErrEmptyPayload indicates the transport finished but produced no bytes
var ErrEmptyPayload = errors.New("download finished with empty payload")

// ErrInvalidRequest indicates a download request that cannot be scheduled as given
var ErrInvalidRequest = errors.New("invalid download request")

// ErrPayloadNotFound indicates no stored payload exists for a finished download
var ErrPayloadNotFound = errors.New("download payload not found")
