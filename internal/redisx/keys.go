package redisx

import "time"

const (
	// Dedup webhook delivery: dedup:{consumer}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Order created for a checkout session: idem:order:create:{session_id} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Cached ledger entry: reconcile_status:{session_id} -> JSON
	KeyReconcileStatus = "reconcile_status:%s"
)

var (
	TTLIdempotency = 7 * 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 72 * time.Hour
)
