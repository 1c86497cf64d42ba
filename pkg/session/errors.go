package session

import (
	perrors "github.com/odvcencio/playwire/pkg/errors"
)

func acquisitionError(req Request, format string, args ...any) error {
	return perrors.Newf(perrors.ErrCodeSessionAcquisition, format, args...).
		WithContext("browser", req.Browser.String())
}

func wrapAcquisition(err error, src Source, message string) error {
	if _, ok := perrors.As(err); ok {
		return err
	}
	return perrors.Wrap(err, perrors.ErrCodeSessionAcquisition, message).
		WithContext("source", string(src))
}
