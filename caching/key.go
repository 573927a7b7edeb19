package caching

import "fmt"

// BeaconKey identifies one beacon's data in the cache: the session
// number plus the sequence number assigned when a session is split.
type BeaconKey struct {
	SessionNumber   int32
	SessionSequence int32
}

func (k BeaconKey) String() string {
	return fmt.Sprintf("[sn=%d, seq=%d]", k.SessionNumber, k.SessionSequence)
}
