package provider

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Timestamp-like fields used to tell apart notifications that carry no event id.
var syntheticTimestampFields = []string{"paid_at", "authorized_at", "updated_at", "requested_at", "created_at", "timestamp"}

// ComputeSignature returns the hex HMAC-SHA256 of body, the form both providers
// send in their signature header.
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifySignedBody(headers http.Header, headerName, secret string, body []byte) *WebhookVerification {
	signature := strings.TrimSpace(headerValue(headers, headerName))
	if signature == "" {
		return &WebhookVerification{Error: "missing " + headerName + " header"}
	}
	if strings.TrimSpace(secret) == "" {
		return &WebhookVerification{Error: "webhook secret is not configured"}
	}

	// Compared as lowercase hex text: an uppercased digit is a different signature.
	if !hmac.Equal([]byte(signature), []byte(ComputeSignature(secret, body))) {
		return &WebhookVerification{Error: "invalid signature"}
	}

	event, err := decodeEvent(body)
	if err != nil {
		return &WebhookVerification{Error: "invalid JSON payload: " + err.Error()}
	}

	return &WebhookVerification{Valid: true, Event: event}
}

// headerValue looks the header up case-insensitively over the raw map, so
// hand-built header maps with lowercase keys resolve like canonical ones.
func headerValue(headers http.Header, name string) string {
	if v := headers.Get(name); v != "" {
		return v
	}
	for key, values := range headers {
		if strings.EqualFold(key, name) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

// decodeEvent keeps numbers as json.Number so large numeric ids are not rounded.
func decodeEvent(body []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		return v, nil
	default:
		return nil, errors.New("payload must be a JSON object")
	}
}

func maskPayload(event map[string]interface{}, piiFields ...string) map[string]interface{} {
	masked := make(map[string]interface{}, len(event))
	for k, v := range event {
		masked[k] = v
	}
	for _, field := range piiFields {
		delete(masked, field)
	}
	return masked
}

// stringField returns the first non-empty value among keys, in preference order.
func stringField(event map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		raw, ok := event[key]
		if !ok || raw == nil {
			continue
		}
		var s string
		switch v := raw.(type) {
		case string:
			s = v
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			s = v.String()
		case bool:
			s = strconv.FormatBool(v)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// syntheticEventID derives a stable id for events that carry none, so a retried
// delivery of the same notification still deduplicates.
func syntheticEventID(orderID, rawStatus string, event map[string]interface{}) string {
	h := sha256.New()
	_, _ = h.Write([]byte(orderID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(rawStatus))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(stringField(event, syntheticTimestampFields...)))
	return "syn_" + hex.EncodeToString(h.Sum(nil))[:32]
}
