package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestCredentialMetaDropsDigest(t *testing.T) {
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	c := &Credential{
		ID:            "0190a3f0-0000-7000-8000-000000000001",
		OwnerID:       "U1",
		Name:          "ci-bot",
		KeyPrefix:     "ks_1a2b3",
		SecretDigest:  "00112233445566778899aabbccddeeff:deadbeef",
		DigestVersion: 1,
		CreatedAt:     now,
	}

	meta := c.Meta()
	if meta.ID != c.ID || meta.Name != c.Name || meta.KeyPrefix != c.KeyPrefix || !meta.CreatedAt.Equal(now) {
		t.Errorf("Meta lost fields: %+v", meta)
	}

	data, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)
	if strings.Contains(s, "deadbeef") || strings.Contains(s, "U1") {
		t.Errorf("metadata JSON leaks digest or owner: %s", s)
	}
	if !strings.Contains(s, `"last_used_at":null`) {
		t.Errorf("expected explicit null last_used_at: %s", s)
	}
}

func TestIssueResponseJSON(t *testing.T) {
	resp := IssueResponse{
		ID:        "k1",
		Name:      "ci-bot",
		KeyPrefix: "ks_1a2b3",
		CreatedAt: time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC),
		KeySecret: "ks_" + strings.Repeat("a", 64),
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"id", "name", "key_prefix", "created_at", "key_secret"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing %q in %s", key, data)
		}
	}
}

func TestErrorResponseOmitsEmptyContext(t *testing.T) {
	data, err := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: 404, Message: "API key not found"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "context") {
		t.Errorf("empty context should be omitted: %s", data)
	}
}
