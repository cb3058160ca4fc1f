package pkg

const (
	HeaderTraceId   string = "X-Trace-Id"
	HeaderRequestId string = "X-Request-Id"
)

const (
	TraceId   string = "trace_id"
	RequestId string = "request_id"
)

// TransactionType tags an entry in the append-only transaction log.
// The store accepts any tag; these are the ones the service writes itself.
type TransactionType string

const (
	TransactionTypePay     TransactionType = "PAY"
	TransactionTypeGive    TransactionType = "GIVE"
	TransactionTypeSet     TransactionType = "SET"
	TransactionTypeRemove  TransactionType = "REMOVE"
	TransactionTypeStarter TransactionType = "STARTER"
)
