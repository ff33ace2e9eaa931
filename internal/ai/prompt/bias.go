// Package prompt holds the prompt templates sent to the analysis service.
package prompt

import "strings"

const biasTemplate = `Analyze the following resume for bias (gender, age, race, socioeconomic, etc.).
Resume text:
{{TEXT}}

Respond with JSON matching this structure exactly:
{
  "score": <0-100 fairness score, 100 is perfectly unbiased>,
  "riskLevel": "<Low | Moderate | High>",
  "scores": { "language": <0-100>, "age": <0-100>, "name": <0-100> },
  "analysis": {
    "summary": "<overall summary>",
    "biasFlags": [
      { "category": "<type of bias>", "description": "<description>", "severity": "<Low|Moderate|High>", "suggestion": "<rewrite suggestion>" }
    ]
  }
}
The "scores" object is optional.`

// GetSystemPrompt returns the system instruction for bias analysis.
func GetSystemPrompt() string {
	return "You are a hiring fairness auditor. You only answer with a single JSON object."
}

// GetBiasPrompt embeds the document text into the bias analysis template.
func GetBiasPrompt(text string) string {
	return strings.Replace(biasTemplate, "{{TEXT}}", text, 1)
}
