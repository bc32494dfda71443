package jobs

import (
	"encoding/json"
	"fmt"
)

// EncodePayload marshals a typed payload into the raw JSON a job row
// stores, after checking it matches the declared kind.
func EncodePayload(k Kind, payload any) ([]byte, error) {
	if !k.IsValid() {
		return nil, ErrInvalidJobKind
	}

	switch k {
	case KindEmail:
		if _, ok := asEmailPayload(payload); !ok {
			return nil, ErrPayloadTypeMismatch
		}
	case KindWebhook:
		if _, ok := asWebhookPayload(payload); !ok {
			return nil, ErrPayloadTypeMismatch
		}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}
	return b, nil
}

// DecodePayload unmarshals a job's raw payload into its typed shape.
func DecodePayload(k Kind, raw []byte) (any, error) {
	if !k.IsValid() {
		return nil, ErrInvalidJobKind
	}
	if len(raw) == 0 {
		return nil, ErrInvalidJobPayload
	}

	switch k {
	case KindEmail:
		var p EmailPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		return p, nil
	case KindWebhook:
		var p WebhookPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		return p, nil
	default:
		return nil, ErrInvalidJobKind
	}
}

func asEmailPayload(payload any) (EmailPayload, bool) {
	switch v := payload.(type) {
	case EmailPayload:
		return v, true
	case *EmailPayload:
		return *v, true
	default:
		return EmailPayload{}, false
	}
}

func asWebhookPayload(payload any) (WebhookPayload, bool) {
	switch v := payload.(type) {
	case WebhookPayload:
		return v, true
	case *WebhookPayload:
		return *v, true
	default:
		return WebhookPayload{}, false
	}
}
