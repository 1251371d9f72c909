// Package dedupe absorbs webhook re-deliveries with a bounded TTL
// replay cache keyed per tenant, user, and message id.
package dedupe
