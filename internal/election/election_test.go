package election

import (
	"encoding/json"
	"strings"
	"testing"
)

func buildValidFile(t *testing.T) []byte {
	t.Helper()
	e := &Election{
		SignatureRequired: true,
		NfAnchorHex:       strings.Repeat("ab", 32),
		FrontierDepth:     4,
	}
	id, err := Fingerprint(e)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	e.ID = hexEncode(id[:])

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0xf]
	}
	return string(out)
}

func TestParseFileAcceptsMatchingID(t *testing.T) {
	data := buildValidFile(t)
	e, err := ParseFile(data)
	if err != nil {
		t.Fatalf("parse file: %v", err)
	}
	if e.FrontierDepth != 4 {
		t.Errorf("frontier depth mismatch: got %d", e.FrontierDepth)
	}
}

func TestParseFileRejectsMismatchedID(t *testing.T) {
	var e Election
	if err := json.Unmarshal(buildValidFile(t), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	e.ID = "0000000000000000000000000000000000000000000000000000000000000000"
	tampered, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := ParseFile(tampered); err == nil {
		t.Errorf("expected ID mismatch error")
	}
}

func TestParseFileDefaultsFrontierDepth(t *testing.T) {
	e := &Election{
		SignatureRequired: false,
		NfAnchorHex:       strings.Repeat("00", 32),
		FrontierDepth:     DefaultFrontierDepth,
	}
	id, _ := Fingerprint(e)
	e.ID = hexEncode(id[:])
	e.FrontierDepth = 0 // omitted in the on-disk file; ParseFile must default it
	data, _ := json.Marshal(e)

	parsed, err := ParseFile(data)
	if err != nil {
		t.Fatalf("parse file: %v", err)
	}
	if parsed.FrontierDepth != DefaultFrontierDepth {
		t.Errorf("expected default depth %d, got %d", DefaultFrontierDepth, parsed.FrontierDepth)
	}
}
