package jobs

// EmailPayload is recorded intent only: nothing in this module actually
// sends mail, it logs and marks the job done. Produced by rendering a
// rule action's config template against the event context.
type EmailPayload struct {
	To       string `json:"to"`
	Template string `json:"template"`
}

// WebhookPayload describes an outbound HTTP call. Body is rendered JSON,
// kept as `any` so nested objects survive template rendering untouched.
type WebhookPayload struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Body    any               `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}
