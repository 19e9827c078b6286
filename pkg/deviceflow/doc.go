// Package deviceflow implements the CLI login flow: the terminal requests a
// device code, the user approves it from an authenticated browser session,
// and the terminal polls until a token pair is released.
//
// The pending -> verified -> issued transitions are conditional writes in
// the shared store, so a contested code releases exactly one token pair no
// matter how many pollers race. Poll pacing is also persisted: clients that
// ignore the advertised interval are told to slow down and the interval is
// ratcheted up.
package deviceflow
