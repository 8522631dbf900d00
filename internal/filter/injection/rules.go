package injection

import "regexp"

// Rule categories.
const (
	CategoryInstructionBypass = "instruction_bypass"
	CategoryRoleOverride      = "role_override"
	CategoryEncodingTrick     = "encoding_trick"
	CategoryOutputSteering    = "output_steering"
	CategoryPromptLeak        = "prompt_leak"
)

// Rule defines a prompt injection detection pattern.
type Rule struct {
	Name     string
	Regex    *regexp.Regexp
	Severity float64 // 0.0 to 1.0
	Category string
}

// DefaultRules returns the built-in injection detection rules.
func DefaultRules() []Rule {
	return []Rule{
		{"ignore_previous", regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|above|earlier)\s+instructions`), 0.95, CategoryInstructionBypass},
		{"disregard_prior", regexp.MustCompile(`(?i)disregard\s+(all\s+)?(prior|previous)\s+(instructions|context|rules)`), 0.95, CategoryInstructionBypass},
		{"jailbreak", regexp.MustCompile(`\bDAN\b|(?i:do\s+anything\s+now|jailbreak|unrestricted\s+mode)`), 0.9, CategoryRoleOverride},
		{"code_block_system", regexp.MustCompile("(?i)```system"), 0.9, CategoryRoleOverride},
		{"system_prefix", regexp.MustCompile(`(?im)^\s*system\s*:\s*`), 0.85, CategoryRoleOverride},
		{"developer_mode", regexp.MustCompile(`(?i)(developer|debug|admin|root)\s+mode\s+(enabled|activated|on)`), 0.85, CategoryRoleOverride},
		{"base64_instruction", regexp.MustCompile(`(?i)(decode|execute|follow)\s+(the\s+)?base64`), 0.85, CategoryEncodingTrick},
		{"reveal_system_prompt", regexp.MustCompile(`(?i)(reveal|print|repeat|show)\s+(me\s+)?(your|the)\s+(system\s+prompt|hidden\s+instructions)`), 0.8, CategoryPromptLeak},
		{"new_instructions", regexp.MustCompile(`(?i)(new|updated|revised)\s+instructions?\s*:`), 0.8, CategoryInstructionBypass},
		{"response_prefix", regexp.MustCompile(`(?i)respond\s+with\s*:\s*(sure|absolutely|of course)`), 0.75, CategoryOutputSteering},
		{"you_are_now", regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\s+`), 0.7, CategoryRoleOverride},
	}
}
