package cloud

// Code is a vendor API result code. The platform returns codes as
// strings; "10000" is the only success value.
type Code string

// Result codes the bridge acts on. The platform defines many more, but
// anything not listed here is handled as a plain failure.
const (
	CodeSuccess Code = "10000"

	// CodeSysError is returned by the platform for internal failures,
	// and synthesized locally when a response body is not an envelope.
	CodeSysError Code = "10001"

	// CodeAccessTokenError means the access token was rejected; the
	// request may succeed after a token refresh.
	CodeAccessTokenError Code = "10005"

	// CodeRefreshTokenError means the refresh token itself is no
	// longer valid and a full login is required.
	CodeRefreshTokenError Code = "10006"

	// CodeTimeout is synthesized locally for request timeouts. The
	// platform uses the same value for server-side operation timeouts.
	CodeTimeout Code = "10017"

	// CodeLoginError means the account or password is wrong. Retrying
	// cannot help.
	CodeLoginError Code = "11000"

	// CodeNetworkError is synthesized locally when the platform is
	// unreachable at the transport level.
	CodeNetworkError Code = "14007"
)

// Retriable reports whether a code identifies a transient transport
// failure worth another attempt.
func (c Code) Retriable() bool {
	return c == CodeTimeout || c == CodeNetworkError
}
