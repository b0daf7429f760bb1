package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MPaymentConfirmations    MetricKey = "payment_confirmations_total"
	MStockMovements          MetricKey = "stock_movements_total"
	MAuditWriteFailures      MetricKey = "audit_write_failures_total"
	MWebhookRedrives         MetricKey = "webhook_redrives_total"
)
