package prompts

import (
	"fmt"
	"strings"
)

// PromptVersion is recorded in logs next to every enhancement.
const PromptVersion = "advisory-v2"

// ============================================================================
// Advisory enhancement
// ============================================================================

// AdvisorySystemPrompt sets the summarizer's role and output contract.
const AdvisorySystemPrompt = `You are a travel-safety analyst. You read an official travel advisory and
turn it into a short, factual briefing for travellers.

Rules:
1. Use only facts stated in the advisory. Do not speculate or add outside knowledge.
2. Keep a calm, neutral tone. No urgency words, no ALL CAPS.
3. "summary" is 2-3 sentences, under 80 words.
4. "key_risks" lists 1-6 short noun phrases (e.g. "terrorism", "civil unrest", "kidnapping").
5. "safety_recommendations" lists 1-6 imperative sentences taken from the advisory.
6. "specific_areas" lists regions, cities or borders the advisory singles out; empty if none.

Output JSON only, no other text:
{
  "summary": "...",
  "key_risks": ["..."],
  "safety_recommendations": ["..."],
  "specific_areas": ["..."]
}`

// AdvisoryUserPrompt renders the advisory for one country.
func AdvisoryUserPrompt(country, title, level, body string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Country: %s\n", country)
	fmt.Fprintf(&sb, "Title: %s\n", title)
	if level != "" {
		fmt.Fprintf(&sb, "Level: %s\n", level)
	}
	sb.WriteString("Advisory:\n")
	sb.WriteString(body)
	return sb.String()
}
