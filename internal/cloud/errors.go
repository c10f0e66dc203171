package cloud

import "errors"

var (
	// ErrReauthRequired indicates both the refresh token and the stored
	// credentials were rejected; the user must re-authenticate.
	ErrReauthRequired = errors.New("cloud: reauthentication required")

	// ErrUnexpectedCode indicates the platform answered with a failure
	// code. Use errors.Is for sentinel checks and the Response code for
	// specifics.
	ErrUnexpectedCode = errors.New("cloud: unexpected result code")
)
