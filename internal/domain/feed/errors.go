package feed

import "errors"

// Messages reported to clients.
const (
	MsgMissingClientID = "Missing client_id parameter"
	MsgMissingBidScope = "Missing client_id or job_id parameter"
	MsgInvalidLimit    = "limit_record must be a positive integer or 'all'"
	MsgJobNotFound     = "Job not found"
	MsgInvalidEdit     = "Invalid edit format or error occurred"
	MsgReadOnly        = "This stream does not accept messages"

	MsgBidsConnected   = "Connected to bids endpoint"
	MsgMissingFields   = "Missing required fields"
	MsgBidFailed       = "Failed to process bid"
	MsgMalformedBid    = "Invalid or malformed request"
	MsgUnsupportedType = "Unsupported message type"
)

// ErrSessionPanic is returned by Run when handling a message panicked.
var ErrSessionPanic = errors.New("feed: session panicked")
