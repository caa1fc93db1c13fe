package log

import "github.com/shopspring/decimal"

// Common field names for structured logging
const (
	FieldComponent    = "component"
	FieldRequestID    = "request_id"
	FieldClientIP     = "client_ip"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldQuery        = "query"
	FieldStatusCode   = "status_code"
	FieldDuration     = "duration_ms"
	FieldUserAgent    = "user_agent"
	FieldSuccess      = "success"
	FieldError        = "error"
	FieldOperation    = "operation"
	FieldAttempt      = "attempt"
	FieldEntryID      = "entry_id"
	FieldEntryKind    = "entry_kind"
	FieldDepartmentID = "department_id"
	FieldProjectID    = "project_id"
	FieldAllocationID = "allocation_id"
	FieldDelta        = "delta"
	FieldAmount       = "amount"
	FieldFiscalYear   = "fiscal_year"
	FieldQuarter      = "quarter"
	FieldEventType    = "event_type"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentDirectory = "directory"
	ComponentBudget    = "budget"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpCreate       = "create"
	OpRead         = "read"
	OpUpdate       = "update"
	OpDelete       = "delete"
	OpUpdateStatus = "update_status"
	OpList         = "list"
	OpRecalculate  = "recalculate"
	OpReconcile    = "reconcile"
	OpMirror       = "mirror"
	OpShutdown     = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds error field
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

// WithEntry adds the ledger entry and the accounts it is booked against.
// Empty attribution ids are omitted.
func (f LogFields) WithEntry(id, kind, departmentID, projectID string) LogFields {
	f[FieldEntryID] = id
	if kind != "" {
		f[FieldEntryKind] = kind
	}
	if departmentID != "" {
		f[FieldDepartmentID] = departmentID
	}
	if projectID != "" {
		f[FieldProjectID] = projectID
	}
	return f
}

// WithDelta adds the amount applied to a spent accumulator.
func (f LogFields) WithDelta(delta decimal.Decimal) LogFields {
	f[FieldDelta] = delta.StringFixed(2)
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldUserAgent] = userAgent
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
