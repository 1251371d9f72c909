// Package gateway assembles the concierge-gateway server from configuration
// and owns its HTTP surface.
//
// One Gateway wires the tenant registry, session store, CRM router,
// generation backends, retrieval manager, event publisher, and replay cache
// into the conversation engine, then serves three route groups on a single
// listener: the channel webhook, the bearer-protected operator API, and the
// one-time Zoho OAuth authorization flow.
package gateway
