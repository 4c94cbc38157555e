package orderbook

import (
	pkgerrors "github.com/Aidin1998/pincex_arbfinder/pkg/errors"
)

var (
	// ErrInvalidInput is returned before any mutation when an update,
	// snapshot or symbol fails validation.
	ErrInvalidInput = pkgerrors.Invalid
	// ErrChecksumMismatch means the book disagrees with its venue and must be
	// resynchronized from a fresh snapshot.
	ErrChecksumMismatch = pkgerrors.ChecksumMismatch
)

func invalid(field, reason string) error {
	return ErrInvalidInput.
		Explain("invalid %s: %s", field, reason).
		WithField(pkgerrors.KindInvalidInput, field, reason)
}

// ChecksumError builds the resync-required error for one book.
func ChecksumError(symbol string, local, venue uint32) error {
	return ErrChecksumMismatch.Explain("%s: local checksum %d does not match venue checksum %d", symbol, local, venue)
}
