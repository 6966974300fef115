package governance

import (
	"context"
	"testing"
)

func TestDefaultPolicyEngine_Evaluate(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	ctx := context.Background()

	// Test Allow (Default)
	res1, err := engine.Evaluate(ctx, Request{Agent: "execution_bot", Description: "index the archive"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !res1.Allowed() {
		t.Errorf("Expected EffectAllow, got %s", res1.Effect)
	}

	// Test Deny
	engine.DenyAgent("rogue_bot")
	res2, err := engine.Evaluate(ctx, Request{Agent: "rogue_bot", Description: "index the archive"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res2.Effect != EffectDeny {
		t.Errorf("Expected EffectDeny, got %s", res2.Effect)
	}
}

func TestNewPolicyEngine_DefaultPatterns(t *testing.T) {
	engine, err := NewPolicyEngine(nil, nil)
	if err != nil {
		t.Fatalf("NewPolicyEngine failed: %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		desc string
		want Effect
	}{
		{"clean up with rm -rf /", EffectDeny},
		{"run mkfs.ext4 on the spare disk", EffectDeny},
		{"Shutdown the staging cluster", EffectDeny},
		{"reboot after patching", EffectDeny},
		{"review the firmware changelog", EffectAllow},
		{"summarise the weekly report", EffectAllow},
	}
	for _, tt := range tests {
		res, err := engine.Evaluate(ctx, Request{Description: tt.desc})
		if err != nil {
			t.Fatalf("Evaluate(%q) failed: %v", tt.desc, err)
		}
		if res.Effect != tt.want {
			t.Errorf("Evaluate(%q) = %s (%s), want %s", tt.desc, res.Effect, res.Reason, tt.want)
		}
	}
}

func TestNewPolicyEngine_EmptyPatternsDisableDefaults(t *testing.T) {
	engine, err := NewPolicyEngine([]string{"ceo_bot"}, []string{})
	if err != nil {
		t.Fatalf("NewPolicyEngine failed: %v", err)
	}
	res, err := engine.Evaluate(context.Background(), Request{Agent: "planner_bot", Description: "reboot"})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Effect != EffectAllow {
		t.Errorf("Expected EffectAllow, got %s", res.Effect)
	}
	res, _ = engine.Evaluate(context.Background(), Request{Agent: "ceo_bot", Description: "plan"})
	if res.Effect != EffectDeny {
		t.Errorf("Expected EffectDeny for denied agent, got %s", res.Effect)
	}
}

func TestNewPolicyEngine_BadPattern(t *testing.T) {
	if _, err := NewPolicyEngine(nil, []string{"("}); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}
