package main

import (
	"errors"

	apperrors "github.com/reglet-dev/warden/internal/application/errors"
	"github.com/reglet-dev/warden/internal/infrastructure/manifest"
	"github.com/reglet-dev/warden/internal/infrastructure/wasm"
)

// Exit codes.
const (
	exitFailure    = 1
	exitInvalid    = 2
	exitNotAllowed = 3
	exitAborted    = 4
)

func exitCode(err error) int {
	var (
		approvalErr   *apperrors.ApprovalError
		manifestErr   *manifest.ValidationError
		validationErr *apperrors.ValidationError
		invocationErr *wasm.InvocationError
	)
	switch {
	case errors.As(err, &approvalErr):
		return exitNotAllowed
	case errors.As(err, &manifestErr), errors.As(err, &validationErr):
		return exitInvalid
	case errors.As(err, &invocationErr):
		return exitAborted
	default:
		return exitFailure
	}
}
