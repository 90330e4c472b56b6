package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseFeatureRules(t *testing.T) {
	rules, err := ParseFeatureRules("/api/v1/biometric=biometric_auth, /api/v1/sso=sso")
	if err != nil {
		t.Fatalf("ParseFeatureRules() failed: %v", err)
	}

	want := []FeatureRule{
		{PathPrefix: "/api/v1/biometric", Feature: "biometric_auth"},
		{PathPrefix: "/api/v1/sso", Feature: "sso"},
	}
	if diff := cmp.Diff(want, rules); diff != "" {
		t.Errorf("rules mismatch (-want +got):\n%s", diff)
	}

	if _, err := ParseFeatureRules("/api/v1/biometric"); err == nil {
		t.Error("expected error for rule without feature")
	}
}

func TestParseRateRules(t *testing.T) {
	rules, err := ParseRateRules("/api/v1/auth=20/1m,/api=1000/1h")
	if err != nil {
		t.Fatalf("ParseRateRules() failed: %v", err)
	}

	want := []RateRule{
		{PathPrefix: "/api/v1/auth", Max: 20, Window: time.Minute},
		{PathPrefix: "/api", Max: 1000, Window: time.Hour},
	}
	if diff := cmp.Diff(want, rules); diff != "" {
		t.Errorf("rules mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{"/a=20", "/a=x/1m", "/a=0/1m", "/a=5/forever", "/a=5/0s"} {
		if _, err := ParseRateRules(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestParseAuditRules(t *testing.T) {
	rules, err := ParseAuditRules("post /api/v1/invitations=invitation.create,* /api/v1/admin=admin.access")
	if err != nil {
		t.Fatalf("ParseAuditRules() failed: %v", err)
	}

	want := []AuditRule{
		{Method: "POST", PathPrefix: "/api/v1/invitations", Action: "invitation.create"},
		{Method: "*", PathPrefix: "/api/v1/admin", Action: "admin.access"},
	}
	if diff := cmp.Diff(want, rules); diff != "" {
		t.Errorf("rules mismatch (-want +got):\n%s", diff)
	}

	if _, err := ParseAuditRules("/api/v1/x=y"); err == nil {
		t.Error("expected error for rule without method")
	}
}

func TestParseRoutes(t *testing.T) {
	routes, err := ParseRoutes("/api/v1/members|http://members:8080|auth")
	if err != nil {
		t.Fatalf("ParseRoutes() failed: %v", err)
	}
	want := []RouteRule{{PathPrefix: "/api/v1/members", URL: "http://members:8080", RequireAuth: true}}
	if diff := cmp.Diff(want, routes); diff != "" {
		t.Errorf("routes mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{
		"/a|http://x",
		"a|http://x|auth",
		"/a|not a url|auth",
		"/a|http://x|maybe",
	} {
		if _, err := ParseRoutes(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestParseUsageRules_Empty(t *testing.T) {
	rules, err := ParseUsageRules("")
	if err != nil || rules != nil {
		t.Errorf("ParseUsageRules(\"\") = %v, %v", rules, err)
	}
}
