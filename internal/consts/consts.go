package consts

const (
	SSEDataPrefix  = "data: "
	SSEEventPrefix = "event: "

	// IdempotencyHeader carries a per-request key on mutating REST calls and drop intake.
	IdempotencyHeader = "X-Idempotency-Key"

	SnapshotKeyPrefix = "board:snapshot:"
	DropKeyPrefix     = "board:drop:"
)
