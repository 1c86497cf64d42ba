package main

import (
	"errors"

	perrors "github.com/odvcencio/playwire/pkg/errors"
)

// Process exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfig      = 2
	exitAcquisition = 3
	exitUsage       = 64
)

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return exitFailure
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

// exitCodeForError prefers an explicit exit code, then maps coded errors.
func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	switch perrors.GetCode(err) {
	case perrors.ErrCodeConfigLoad, perrors.ErrCodeConfigParse, perrors.ErrCodeConfigInvalid:
		return exitConfig
	case perrors.ErrCodeSessionAcquisition, perrors.ErrCodeAuthLoad,
		perrors.ErrCodeDescriptorSchema, perrors.ErrCodeDriverNotFound, perrors.ErrCodeDriverLaunch:
		return exitAcquisition
	case perrors.ErrCodeInvalidInput:
		return exitUsage
	}
	return exitFailure
}
