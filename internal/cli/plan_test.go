package cli

import "testing"

func TestBuildRequestFinalPolicyDefaults(t *testing.T) {
	req, err := buildRequest(planCmd, "ibuprofen")
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if !req.FinalRequireSampleSize {
		t.Fatal("sample-size requirement must default on")
	}
	if !req.FinalRequirePrimaryEndpoint {
		t.Fatal("primary-endpoint requirement must default on")
	}
	if req.FinalRequireCVPoint {
		t.Fatal("CV point requirement is opt-in")
	}
}

func TestBuildRequestFinalStrict(t *testing.T) {
	finalStrict = true
	defer func() { finalStrict = false }()

	req, err := buildRequest(planCmd, "ibuprofen")
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if !req.FinalRequireSampleSize || !req.FinalRequireCVPoint || !req.FinalRequirePrimaryEndpoint {
		t.Fatalf("strict mode must force all final requirements: %+v", req)
	}
}
