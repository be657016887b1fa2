package kamilata

import "errors"

// Admission errors (§7). Surfaced only to internal callers of Database's
// add_seeder/add_leecher equivalents; the observed effect from outside is
// that the corresponding task ends silently.
var (
	ErrTooManySeeders  = errors.New("kamilata: too many seeders")
	ErrTooManyLeechers = errors.New("kamilata: too many leechers")
)

// ErrDisconnectedPeer is returned by address-book operations performed
// against a peer we are not currently connected to.
var ErrDisconnectedPeer = errors.New("kamilata: peer is not connected")

// Protocol errors (§7). These close the offending substream; they never
// tear down the connection.
var (
	ErrFrameTooLarge    = errors.New("kamilata: frame exceeds maximum size")
	ErrUnknownVariant   = errors.New("kamilata: unknown packet variant")
	ErrFilterSize       = errors.New("kamilata: filter has unexpected byte length")
	ErrTooManyFilters   = errors.New("kamilata: filter stack exceeds configured filter count")
	ErrUnexpectedPacket = errors.New("kamilata: received unexpected packet for current state")
)

// ErrNoIntervalAgreement is logged, and its text sent as the Disconnect
// reason, when two peers cannot negotiate an overlapping filter refresh
// interval (§7 negotiation failures).
var ErrNoIntervalAgreement = errors.New("kamilata: no overlapping refresh interval")
