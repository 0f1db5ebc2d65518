package connectors

import "invrecon/internal"

// MailConnector fetches raw report messages from a mailbox label.
type MailConnector interface {
	FetchInbox(label string, max int) ([]internal.FetchedReportMessage, error)
}
