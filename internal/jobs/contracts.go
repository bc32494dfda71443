package jobs

// These constants list the fields the rule engine's render context exposes to
// `{{...}}` templates inside a rule action's config, mirrored here so
// callers building a context map by hand don't have to guess the shape.
const (
	CtxEventID     = "eventId"
	CtxSource      = "source"
	CtxType        = "type"
	CtxSubject     = "subject"
	CtxPayload     = "payload"
	CtxOccurredAt  = "occurredAt"
)
