package jobs

import "testing"

func TestEncodeDecode_Email(t *testing.T) {
	payload := EmailPayload{To: "ops@example.com", Template: "order_created"}

	b, err := EncodePayload(KindEmail, payload)
	if err != nil {
		t.Fatalf("EncodePayload error: %v", err)
	}

	decoded, err := DecodePayload(KindEmail, b)
	if err != nil {
		t.Fatalf("DecodePayload error: %v", err)
	}

	p, ok := decoded.(EmailPayload)
	if !ok {
		t.Fatalf("expected EmailPayload, got %T", decoded)
	}
	if p.To != payload.To {
		t.Fatalf("expected to %s, got %s", payload.To, p.To)
	}
}

func TestEncodeDecode_Webhook(t *testing.T) {
	payload := WebhookPayload{Method: "POST", URL: "https://example.com/hook", Body: map[string]any{"ok": true}}

	b, err := EncodePayload(KindWebhook, payload)
	if err != nil {
		t.Fatalf("EncodePayload error: %v", err)
	}

	decoded, err := DecodePayload(KindWebhook, b)
	if err != nil {
		t.Fatalf("DecodePayload error: %v", err)
	}

	p, ok := decoded.(WebhookPayload)
	if !ok {
		t.Fatalf("expected WebhookPayload, got %T", decoded)
	}
	if p.URL != payload.URL {
		t.Fatalf("expected url %s, got %s", payload.URL, p.URL)
	}
}

func TestEncodePayload_TypeMismatch(t *testing.T) {
	_, err := EncodePayload(KindEmail, WebhookPayload{URL: "https://example.com"})
	if err != ErrPayloadTypeMismatch {
		t.Fatalf("expected ErrPayloadTypeMismatch, got %v", err)
	}
}

func TestValidatePayload_RequiredFields(t *testing.T) {
	if err := ValidatePayload(KindEmail, EmailPayload{To: "", Template: ""}); err == nil {
		t.Fatalf("expected error")
	}
	if err := ValidatePayload(KindWebhook, WebhookPayload{URL: ""}); err == nil {
		t.Fatalf("expected error")
	}
	if err := ValidatePayload(KindWebhook, WebhookPayload{URL: "https://example.com"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
