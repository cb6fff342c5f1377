package log

// Attribute keys. Counterparty addresses and merchant ids are intentionally
// absent: log sinks must not become a second copy of the detail log.
const (
	FieldComponent   = "component"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldDuration    = "duration_ms"
	FieldSpenderID   = "spender_id"
	FieldGuardianID  = "guardian_id"
	FieldPrincipalID = "principal_id"
	FieldTransferID  = "transfer_id"
	FieldAmount      = "amount"
	FieldCategory    = "category"
	FieldMonth       = "month"
	FieldAddress     = "address"
	FieldBackend     = "backend"
)

const (
	ComponentApp        = "app"
	ComponentVault      = "vault"
	ComponentLedger     = "ledger"
	ComponentExecutor   = "executor"
	ComponentAggregator = "aggregator"
	ComponentReconciler = "reconciler"
	ComponentPrivacy    = "privacy"
	ComponentFunding    = "funding"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentReport     = "report"
	ComponentCache      = "cache"
	ComponentBackend    = "backend"
)

const (
	OpCreate    = "create"
	OpSign      = "sign"
	OpSubmit    = "submit"
	OpExecute   = "execute"
	OpAggregate = "aggregate"
	OpReconcile = "reconcile"
	OpResolve   = "resolve_pending"
	OpFund      = "fund"
	OpRead      = "read"
	OpExport    = "export"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields accumulates attributes before they are handed to a Logger.
type LogFields map[string]any

func NewFields() LogFields { return LogFields{} }

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError records err's message; a nil err leaves f untouched.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithTransfer adds the fields of a transfer that are safe to log.
func (f LogFields) WithTransfer(spenderID, transferID string, amount int64, category string) LogFields {
	f[FieldSpenderID] = spenderID
	f[FieldTransferID] = transferID
	f[FieldAmount] = amount
	f[FieldCategory] = category
	return f
}

// ToSlice flattens f into slog's alternating key/value form.
func (f LogFields) ToSlice() []any {
	out := make([]any, 0, 2*len(f))
	for k, v := range f {
		out = append(out, k, v)
	}
	return out
}
