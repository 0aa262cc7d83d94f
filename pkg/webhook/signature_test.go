package webhook

import (
	"encoding/json"
	"testing"
)

func TestSignDeterministic(t *testing.T) {
	a := Sign("secret", []byte("payload"))
	b := Sign("secret", []byte("payload"))
	if a != b {
		t.Errorf("Sign() is not deterministic: %q != %q", a, b)
	}
}

func TestSignDiffersByKey(t *testing.T) {
	a := Sign("secret-a", []byte("payload"))
	b := Sign("secret-b", []byte("payload"))
	if a == b {
		t.Error("Sign() with different secrets produced the same signature")
	}
}

func TestVerify(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"event":"demographics.created"}`)
	sig := Sign(secret, payload)

	if !Verify(secret, payload, sig) {
		t.Error("Verify() rejected a correctly signed payload")
	}
	if Verify(secret, payload, "deadbeef") {
		t.Error("Verify() accepted a bad signature")
	}
	if Verify("wrong-secret", payload, sig) {
		t.Error("Verify() accepted a signature computed under a different secret")
	}
	if Verify(secret, []byte("tampered"), sig) {
		t.Error("Verify() accepted a signature for a different payload")
	}
}

func TestPayloadCanonicalJSONClearsSignature(t *testing.T) {
	p := Payload{Event: EventDemographicsCreated, Tenant: "acme", Signature: "stale"}

	canonical, err := p.CanonicalJSON()
	if err != nil {
		t.Fatalf("CanonicalJSON(): %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(canonical, &decoded); err != nil {
		t.Fatalf("unmarshal canonical JSON: %v", err)
	}
	if sig, ok := decoded["signature"]; ok && sig != "" {
		t.Errorf("canonical JSON retained a non-empty signature field: %v", sig)
	}
}
