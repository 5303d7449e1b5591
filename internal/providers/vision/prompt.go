package vision

import (
	"fmt"
	"strings"
)

const analysisPrompt = `You are a professional workplace safety and compliance inspector. Analyze this workplace photo for safety and compliance violations.

Return ONLY a valid JSON object (no markdown, no code fences) with this exact structure:
{
  "overall_score": <1-100, where 100 is perfectly safe>,
  "summary": "<2-3 sentence overview of the safety state>",
  "industry_detected": "<restaurant|construction|warehouse|retail|office|general>",
  "violations": [
    {
      "id": <number starting from 1>,
      "category": "<fire_safety|electrical|ergonomic|slip_trip_fall|chemical|ppe|structural|hygiene|emergency_exit|general>",
      "severity": "<critical|high|medium|low>",
      "title": "<short violation title>",
      "description": "<detailed description of what's wrong>",
      "location": "<where in the image this is visible>",
      "recommendation": "<specific fix recommendation>",
      "regulatory_reference": "<OSHA/FDA/NFPA standard reference if applicable, or empty string>"
    }
  ],
  "compliant_areas": ["<things that look good/safe>"],
  "priority_fixes": ["<top 3 most urgent fixes>"]
}

Be thorough but accurate. Only report violations you can actually see evidence of in the image. Score higher if the space looks generally safe, lower if there are serious hazards.`

// buildPrompt appends the industry hint and the batch context to the fixed
// instruction text.
func buildPrompt(industryHint string, images int) string {
	var b strings.Builder
	b.WriteString(analysisPrompt)

	hint := strings.TrimSpace(industryHint)
	if hint != "" && hint != "general" {
		fmt.Fprintf(&b, "\n\nThe user indicated this is a %s environment. Pay special attention to industry-specific regulations.", hint)
	}
	if images > 1 {
		fmt.Fprintf(&b, "\n\nYou are analyzing %d workplace photos from the same location. Provide a single combined report covering all images.", images)
	}
	return b.String()
}

// stripFences removes markdown code fences the model sometimes adds despite
// the instructions.
func stripFences(content string) string {
	content = strings.ReplaceAll(content, "```json", "")
	content = strings.ReplaceAll(content, "```", "")
	return strings.TrimSpace(content)
}
