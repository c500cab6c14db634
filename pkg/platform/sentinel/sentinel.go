package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Bundle stores, the synced-ID ledger
// and the audit outbox return these (optionally wrapped) so services can
// translate them into coded domain errors.
//
//   - ErrNotFound: bundle or record does not exist in the store
//   - ErrConflict: a write collided with an existing record
//   - ErrUnavailable: backing service (postgres, redis, kafka) temporarily unavailable
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
