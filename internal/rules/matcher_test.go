package rules

import (
	"testing"

	"github.com/replyflow/backend/internal/models"
)

func activeRule(pattern, class string, requiresReply bool) models.SenderRule {
	return models.SenderRule{
		Pattern:              pattern,
		DefaultClass:         class,
		DefaultRequiresReply: requiresReply,
		IsActive:             true,
	}
}

func TestSenderDomain(t *testing.T) {
	if d := SenderDomain("Billing@Stripe.com"); d != "stripe.com" {
		t.Fatalf("expected stripe.com, got %q", d)
	}
	if d := SenderDomain("no-at-sign"); d != "" {
		t.Fatalf("expected empty domain, got %q", d)
	}
	if d := SenderDomain("trailing@"); d != "" {
		t.Fatalf("expected empty domain for trailing @, got %q", d)
	}
}

func TestMatchDomainPattern(t *testing.T) {
	ruleSet := []models.SenderRule{
		activeRule("@stripe.com", models.ClassReceiptConfirmation, false),
	}
	res, ok := Match("billing@stripe.com", "", "", ruleSet)
	if !ok {
		t.Fatal("expected match")
	}
	if res.Classification != models.ClassReceiptConfirmation || res.RequiresReply {
		t.Fatalf("unexpected result %+v", res)
	}

	// "@stripe.com" is an exact domain match, not a suffix match.
	if _, ok := Match("x@notstripe.com", "", "", ruleSet); ok {
		t.Fatal("expected no match for different domain")
	}
}

func TestMatchSubstringPattern(t *testing.T) {
	ruleSet := []models.SenderRule{
		activeRule("noreply", models.ClassAutomatedNotification, false),
	}
	if _, ok := Match("noreply@vendor.io", "", "", ruleSet); !ok {
		t.Fatal("expected substring match on address")
	}
	if _, ok := Match("x@noreply-mailer.io", "", "", ruleSet); !ok {
		t.Fatal("expected substring match on domain")
	}
	if _, ok := Match("support@vendor.io", "", "", ruleSet); ok {
		t.Fatal("expected no match")
	}
}

func TestMatchFirstRuleWins(t *testing.T) {
	ruleSet := []models.SenderRule{
		activeRule("vendor.io", models.ClassAutomatedNotification, false),
		activeRule("@vendor.io", models.ClassCustomerInquiry, true),
	}
	res, ok := Match("alerts@vendor.io", "", "", ruleSet)
	if !ok {
		t.Fatal("expected match")
	}
	if res.Classification != models.ClassAutomatedNotification {
		t.Fatalf("expected first rule in stored order to win, got %s", res.Classification)
	}
}

func TestMatchDeterministic(t *testing.T) {
	ruleSet := []models.SenderRule{
		activeRule("billing", models.ClassReceiptConfirmation, false),
		activeRule("@vendor.io", models.ClassAutomatedNotification, false),
	}
	first, ok := Match("billing@vendor.io", "s", "b", ruleSet)
	if !ok {
		t.Fatal("expected match")
	}
	for i := 0; i < 50; i++ {
		res, ok := Match("billing@vendor.io", "s", "b", ruleSet)
		if !ok || res.Rule.Pattern != first.Rule.Pattern {
			t.Fatalf("match not deterministic on iteration %d: %+v", i, res)
		}
	}
}

func TestMatchSkipsInactiveAndMalformed(t *testing.T) {
	inactive := activeRule("@vendor.io", models.ClassAutomatedNotification, false)
	inactive.IsActive = false
	ruleSet := []models.SenderRule{
		inactive,
		activeRule("", models.ClassAutomatedNotification, false),
		activeRule("@", models.ClassAutomatedNotification, false),
		activeRule("   ", models.ClassAutomatedNotification, false),
	}
	if _, ok := Match("alerts@vendor.io", "", "", ruleSet); ok {
		t.Fatal("inactive and malformed patterns must never match")
	}
}

func TestMatchKeywordOverride(t *testing.T) {
	overrideClass := models.ClassCustomerInquiry
	overrideReply := true
	rule := activeRule("@payments.example", models.ClassReceiptConfirmation, false)
	rule.OverrideKeywords = []string{"chargeback", "dispute"}
	rule.OverrideClass = &overrideClass
	rule.OverrideRequires = &overrideReply
	ruleSet := []models.SenderRule{rule}

	res, ok := Match("bot@payments.example", "Dispute opened", "details inside", ruleSet)
	if !ok {
		t.Fatal("expected match")
	}
	if !res.KeywordTriggered || res.Classification != models.ClassCustomerInquiry || !res.RequiresReply {
		t.Fatalf("expected keyword override, got %+v", res)
	}

	res, ok = Match("bot@payments.example", "Your receipt", "thanks", ruleSet)
	if !ok || res.KeywordTriggered {
		t.Fatalf("expected plain default path, got %+v ok=%v", res, ok)
	}
}

func TestMatchCoercesUnknownRuleClassification(t *testing.T) {
	ruleSet := []models.SenderRule{
		activeRule("@vendor.io", "unknown_category", false),
	}
	res, ok := Match("alerts@vendor.io", "", "", ruleSet)
	if !ok {
		t.Fatal("expected match")
	}
	if res.Classification != models.ClassCustomerInquiry || !res.RequiresReply {
		t.Fatalf("expected safe default coercion, got %+v", res)
	}
}
