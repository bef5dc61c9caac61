// Package domain defines the core entities shared by the compliance engine:
// policies and their rules, violations, validation results, remediation plans,
// incidents, and auto-remediation rules. It carries no evaluation logic beyond
// field-path resolution over evaluation contexts; behaviour lives in the
// component packages (policy, validation, remediation, incident, enforcement).
package domain
