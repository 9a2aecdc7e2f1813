package contract

import "errors"

var (
	// ErrCandidateGone is returned by PairEntries when the counterpart
	// queue entry disappeared or changed status before the pairing could
	// be firmed up.
	ErrCandidateGone = errors.New("candidate queue entry no longer available")
)
