// Package budget holds per-surface runtime budget profiles.
//
// A profile bounds how many isolated contexts a surface may run at once
// and how long each one may take to boot and to run. All values are
// clamped at construction so misconfiguration can never silently disable
// enforcement; the only way to turn a timer off is the explicit Unlimited
// escape used by tests.
package budget
