package rules

import (
	"strings"

	"github.com/replyflow/backend/internal/models"
)

// MatchResult is what the gatekeeper returns instead of a classifier call.
type MatchResult struct {
	Rule            models.SenderRule
	Classification  string
	RequiresReply   bool
	KeywordTriggered bool
}

// SenderDomain returns the lowercased portion of an address after the last
// "@", or "" when the address has no domain part.
func SenderDomain(address string) string {
	addr := strings.ToLower(strings.TrimSpace(address))
	idx := strings.LastIndex(addr, "@")
	if idx < 0 || idx == len(addr)-1 {
		return ""
	}
	return addr[idx+1:]
}

// Match runs the sender address through the rule list in stored order and
// returns the first active rule that matches. First match wins; ordering is
// the caller's contract, not the matcher's. Malformed patterns never match.
func Match(sender string, subject string, body string, ruleSet []models.SenderRule) (MatchResult, bool) {
	addr := strings.ToLower(strings.TrimSpace(sender))
	if addr == "" {
		return MatchResult{}, false
	}
	domain := SenderDomain(addr)

	for _, r := range ruleSet {
		if !r.IsActive {
			continue
		}
		if !patternMatches(r.Pattern, addr, domain) {
			continue
		}
		res := MatchResult{
			Rule:           r,
			Classification: r.DefaultClass,
			RequiresReply:  r.DefaultRequiresReply,
		}
		if kw := matchedKeyword(r.OverrideKeywords, subject, body); kw != "" {
			res.KeywordTriggered = true
			if r.OverrideClass != nil && *r.OverrideClass != "" {
				res.Classification = *r.OverrideClass
			}
			if r.OverrideRequires != nil {
				res.RequiresReply = *r.OverrideRequires
			}
		}
		if !models.ValidClassification(res.Classification) {
			res.Classification = models.ClassCustomerInquiry
			res.RequiresReply = true
		}
		return res, true
	}
	return MatchResult{}, false
}

// patternMatches implements the two pattern forms: "@domain" compares the
// domain exactly, anything else is a substring test against the full address
// or the domain.
func patternMatches(pattern string, addr string, domain string) bool {
	p := strings.ToLower(strings.TrimSpace(pattern))
	if p == "" {
		return false
	}
	if strings.HasPrefix(p, "@") {
		return len(p) > 1 && domain == p[1:]
	}
	return strings.Contains(addr, p) || (domain != "" && strings.Contains(domain, p))
}

func matchedKeyword(keywords []string, subject string, body string) string {
	if len(keywords) == 0 {
		return ""
	}
	haystack := strings.ToLower(subject + "\n" + body)
	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k == "" {
			continue
		}
		if strings.Contains(haystack, k) {
			return k
		}
	}
	return ""
}
