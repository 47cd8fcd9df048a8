package log

import "sort"

// Common field names for structured logging
const (
	FieldComponent      = "component"
	FieldOperation      = "operation"
	FieldError          = "error"
	FieldErrorType      = "error_type"
	FieldRecipientID    = "recipient_id"
	FieldRecipientName  = "recipient_name"
	FieldRecipientCount = "recipient_count"
	FieldAmountCents    = "amount_cents"
	FieldStorageKey     = "storage_key"
	FieldBackend        = "backend"
	FieldVersion        = "version"
	FieldSource         = "source"
	FieldOrigin         = "origin"
	FieldFormat         = "format"
	FieldPath           = "path"
	FieldDuration       = "duration_ms"
)

// Components defines standard component names
const (
	ComponentApp         = "app"
	ComponentStore       = "store"
	ComponentPersistence = "persistence"
	ComponentStorage     = "storage"
	ComponentBus         = "bus"
	ComponentAMQP        = "amqp"
	ComponentWorker      = "worker"
	ComponentExport      = "export"
	ComponentSheets      = "sheets"
	ComponentBackup      = "backup"
	ComponentQR          = "qr"
	ComponentCache       = "cache"
	ComponentBackend     = "backend"
	ComponentHTTP        = "http"
)

// Operations defines standard operation names
const (
	OpAdd      = "add"
	OpUpdate   = "update"
	OpRemove   = "remove"
	OpClear    = "clear"
	OpRestore  = "restore"
	OpRefresh  = "refresh"
	OpLoad     = "load"
	OpSave     = "save"
	OpPublish  = "publish"
	OpConsume  = "consume"
	OpWatch    = "watch"
	OpExport   = "export"
	OpBackup   = "backup"
	OpEncode   = "encode"
	OpValidate = "validate"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeStorage       = "storage_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeFormat        = "format_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithErrorType adds an error category
func (f LogFields) WithErrorType(kind string) LogFields {
	f[FieldErrorType] = kind
	return f
}

// WithRecipient adds recipient-related fields
func (f LogFields) WithRecipient(id, name string, amountCents int64) LogFields {
	f[FieldRecipientID] = id
	f[FieldRecipientName] = name
	f[FieldAmountCents] = amountCents
	return f
}

// WithCount adds the collection size
func (f LogFields) WithCount(n int) LogFields {
	f[FieldRecipientCount] = n
	return f
}

// WithStorage adds slot fields
func (f LogFields) WithStorage(backend, key string) LogFields {
	f[FieldBackend] = backend
	f[FieldStorageKey] = key
	return f
}

// ToSlice converts LogFields to a slice for slog. Keys are sorted so records
// render in a stable order.
func (f LogFields) ToSlice() []any {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	slice := make([]any, 0, len(f)*2)
	for _, k := range keys {
		slice = append(slice, k, f[k])
	}
	return slice
}
