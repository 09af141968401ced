// Package propose turns freshly registered versions into reviewable
// changes against the registry's hosting repository.
//
// Each module gets one deterministic branch, <prefix><module>, built by
// cloning the base branch into a bounded in-memory filesystem,
// overlaying the module's registry files, and force-pushing. At most
// one proposal is open per module at a time: when one exists already
// the push updates it in place, otherwise a new pull request is
// opened. Proposal failures never touch registry state, which is
// durable before this package runs.
package propose
