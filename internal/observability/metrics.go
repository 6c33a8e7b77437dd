package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MSweepInvoices           MetricKey = "sweep_invoices_total"
	MSweepDuration           MetricKey = "sweep_duration_seconds"
	MInvoiceTransitions      MetricKey = "invoice_transitions_total"
)
