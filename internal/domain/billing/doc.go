// Package billing contains the tuition billing domain: the Charge ledger, the
// Bill records that mirror invoices issued at the PaysSam gateway, and the
// append-only Event log that audits every lifecycle transition.
//
// A Charge is what a payer owes for a period. A Bill is one attempt to collect
// it through the gateway. The gateway reports progress asynchronously with an
// approval state (F, W, C, D) which is mapped onto both records through a
// single table shared by the webhook path and the manual sync path.
package billing
