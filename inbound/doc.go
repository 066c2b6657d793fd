// Package inbound exposes the oracle's HTTP surface: the signed oracle
// webhook endpoint, the CVAT job update webhook, worker assignment and the
// health and metrics probes.
//
// Boundary failures never reach storage. Authentication failures answer 401
// with a fixed body and validation failures answer 400 with per-field errors.
package inbound
