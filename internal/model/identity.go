package model

// Identity is the opaque user id bound to a connection at admission time.
type Identity string

// SystemIdentity is the sender recorded on envelopes produced by the server
// itself, such as coalesced batches.
const SystemIdentity Identity = "system"

func (i Identity) String() string { return string(i) }
