// Package rules turns detections into human-readable safety comments.
//
// Rules are loaded once from a YAML mapping and kept as an ordered list, because
// partial-match precedence depends on declaration order:
//
//	fire: "Fire hazard detected"
//	ppe:
//	  no_helmet: "Worker missing helmet"
//	  no_vest: "Worker missing vest"
//	default: "No issues found"
//
// A "no findings" message belongs in the rule file as the default entry; the
// engine has no built-in wording for it.
package rules
