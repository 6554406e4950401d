package terminal

import (
	"encoding/json"
	"strings"
)

// ParsePayload extracts the badge identity from a decoded QR payload. Badges
// carry either the bare email or a JSON object with an "email" field.
func ParsePayload(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var badge struct {
			Email string `json:"email"`
		}
		if err := json.Unmarshal([]byte(raw), &badge); err == nil {
			raw = strings.TrimSpace(badge.Email)
		}
	}
	if raw == "" || !strings.Contains(raw, "@") {
		return "", false
	}
	return raw, true
}
