package jobs

import "strings"

// ValidateEncoded decodes raw job action config bytes for kind and
// validates the result. Used at rule authoring time (admin create/update)
// to reject an obviously malformed action config; fan-out never calls
// this, since a rendered-empty template is a per-event concern, not an
// authoring-time one, and every matching action still gets a job row.
func ValidateEncoded(k Kind, raw []byte) error {
	payload, err := DecodePayload(k, raw)
	if err != nil {
		return err
	}
	return ValidatePayload(k, payload)
}

// ValidatePayload performs minimal shape validation on a decoded payload,
// beyond what json.Unmarshal already guarantees.
func ValidatePayload(k Kind, payload any) error {
	if !k.IsValid() {
		return ErrInvalidJobKind
	}

	trim := func(s string) string { return strings.TrimSpace(s) }

	switch k {
	case KindEmail:
		p, ok := asEmailPayload(payload)
		if !ok {
			return ErrPayloadTypeMismatch
		}
		if trim(p.To) == "" || trim(p.Template) == "" {
			return ErrInvalidJobPayload
		}
		return nil

	case KindWebhook:
		p, ok := asWebhookPayload(payload)
		if !ok {
			return ErrPayloadTypeMismatch
		}
		if trim(p.URL) == "" {
			return ErrInvalidJobPayload
		}
		return nil

	default:
		return ErrInvalidJobKind
	}
}
