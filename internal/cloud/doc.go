// Package cloud speaks to the Duwi cloud platform.
//
// Two surfaces:
//
//   - Client: signed REST calls for authentication, discovery and
//     control. Every request carries an MD5 signature over the
//     canonical body, the app secret and a millisecond timestamp.
//     The platform answers with a uniform {code, message, data}
//     envelope; "10000" is success, and transport failures are folded
//     into sentinel codes so every caller handles one failure shape.
//
//   - Push: a supervised websocket streaming device value changes and
//     terminal liveness under the Duwi.RPS.* namespaces. The registry
//     consumes these to keep local state current while in cloud mode.
//
// Tokens are rotated in place: a refresh is attempted first, a full
// login on refresh-token rejection, and ErrReauthRequired only when
// the stored credentials are dead too.
package cloud
