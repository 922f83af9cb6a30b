package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Service
	FieldService = "service"

	// Signaling
	FieldConnID     = "conn_id"
	FieldTargetConn = "target_conn_id"
	FieldStreamerID = "streamer_id"
	FieldViewerID   = "viewer_id"
	FieldBattleID   = "battle_id"
	FieldEvent      = "event"
	FieldReason     = "reason"
	FieldCount      = "count"
)
