// Package core holds the oracle domain entities, status machines, error
// taxonomy, configuration and the store and collaborator contracts. Adapters
// depend on core; core does not depend on any adapter.
package core
