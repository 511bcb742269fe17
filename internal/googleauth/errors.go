package googleauth

import "errors"

var (
	// ErrNotConnected means the user has no Google credentials at all.
	ErrNotConnected = errors.New("google account not connected")

	// ErrServiceNotApproved means the user connected Google but did not
	// grant the requested service.
	ErrServiceNotApproved = errors.New("google service not approved")

	// ErrEncryptionBackfill means re-encrypting a legacy plaintext token
	// failed. Credential resolution aborts rather than hand out a token
	// that would remain plaintext at rest.
	ErrEncryptionBackfill = errors.New("token encryption backfill failed")
)
