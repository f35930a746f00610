package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldCategory      = "category"
	FieldAmount        = "amount"
	FieldZScore        = "z_score"
	FieldIsAnomaly     = "is_anomaly"
	FieldTxCount       = "transaction_count"
	FieldCategoryCount = "category_count"
	FieldAnomalyID     = "anomaly_id"
	FieldSheetsRef     = "sheets_ref"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentDetector  = "detector"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
)

// Operations defines standard operation names
const (
	OpClassify = "classify"
	OpSnapshot = "snapshot"
	OpRestore  = "restore"
	OpReset    = "reset"
	OpReport   = "report"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)
