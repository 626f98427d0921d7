// Package core contains the canonical revenue-recovery domain contracts,
// entities, and classification logic. Higher-level packages (the webhook
// flow, connectors, stores, adapters) depend on this package; core must not
// depend on connector-specific or transport-specific code.
package core
