package types

import "fmt"

// ReplyStatus is the lifecycle state of a Reply.
//
//	pending   -> qualified | rejected_missing_post | rejected_duplicate | expired
//	qualified -> posted | expired
//
// Everything else is terminal.
type ReplyStatus string

const (
	StatusPending             ReplyStatus = "pending"
	StatusQualified           ReplyStatus = "qualified"
	StatusPosted              ReplyStatus = "posted"
	StatusExpired             ReplyStatus = "expired"
	StatusRejectedMissingPost ReplyStatus = "rejected_missing_post"
	StatusRejectedDuplicate   ReplyStatus = "rejected_duplicate"
)

// AllStatuses lists every known status
var AllStatuses = []ReplyStatus{
	StatusPending,
	StatusQualified,
	StatusPosted,
	StatusExpired,
	StatusRejectedMissingPost,
	StatusRejectedDuplicate,
}

// ParseReplyStatus validates a stored status string
func ParseReplyStatus(s string) (ReplyStatus, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown reply status %q", s)
}

// Terminal reports whether no further transition is possible
func (s ReplyStatus) Terminal() bool {
	switch s {
	case StatusPending, StatusQualified:
		return false
	default:
		return true
	}
}

// Live reports whether the reply holds its target post. At most one reply
// per post may be live.
func (s ReplyStatus) Live() bool {
	return s == StatusQualified || s == StatusPosted
}

// CanTransition reports whether s -> to is a legal lifecycle step
func (s ReplyStatus) CanTransition(to ReplyStatus) bool {
	switch s {
	case StatusPending:
		switch to {
		case StatusQualified, StatusRejectedMissingPost, StatusRejectedDuplicate, StatusExpired:
			return true
		}
	case StatusQualified:
		switch to {
		case StatusPosted, StatusExpired:
			return true
		}
	}
	return false
}
