package dispatch

import "strings"

// Acknowledgement reasons that are not fault reasons.
const (
	ReasonBadFormat   = "bad_format"
	ReasonBusy        = "busy"
	ReasonInvalidFile = "invalid_file"
	ReasonAborted     = "aborted"
)

// UnknownID is used in acknowledgements for lines that could not be parsed.
const UnknownID = "unknown"

type AckKind string

const (
	AckStatus   AckKind = "status"
	AckAccepted AckKind = "accepted"
	AckDone     AckKind = "done"
	AckError    AckKind = "error"
)

// Ack is one acknowledgement line.
type Ack struct {
	Kind   AckKind
	ID     string
	Reason string
	Text   string
}

func Status(text string) Ack      { return Ack{Kind: AckStatus, Text: text} }
func Accepted(id string) Ack      { return Ack{Kind: AckAccepted, ID: id} }
func Done(id string) Ack          { return Ack{Kind: AckDone, ID: id} }
func Error(id, reason string) Ack { return Ack{Kind: AckError, ID: id, Reason: reason} }
func BusyError() Ack              { return Error(UnknownID, ReasonBusy) }
func BadFormatError() Ack         { return Error(UnknownID, ReasonBadFormat) }
func statusf(parts ...string) Ack { return Status(strings.Join(parts, " ")) }

// String renders the wire form, e.g. "ack:error 7 busy".
func (a Ack) String() string {
	switch a.Kind {
	case AckStatus:
		return "status:" + a.Text
	case AckAccepted:
		return "ack:accepted " + a.ID
	case AckDone:
		return "ack:done " + a.ID
	default:
		return "ack:error " + a.ID + " " + a.Reason
	}
}
