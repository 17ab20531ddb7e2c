// Package registry tracks fleet membership. It admits and evicts backend
// servers, indexes them by group, ages heartbeats against a staleness
// threshold, and feeds the load balancer its view of which servers are
// online. Membership survives restarts through the shared store.
package registry
