package bridge

import "strings"

// idDelimiter joins thread and message ids in an external id. Chat ids are
// decimal snowflakes, so the delimiter never occurs inside one.
const idDelimiter = "-"

// Address is a decoded external id: a whole thread, or one message in it.
type Address struct {
	ThreadID  string
	MessageID string
}

// IsThread reports whether the address names a whole thread.
func (a Address) IsThread() bool {
	return a.MessageID == ""
}

// EncodeThread returns the external id of a thread.
func EncodeThread(threadID string) string {
	return threadID
}

// EncodeMessage returns the external id of a message inside a thread.
func EncodeMessage(threadID, messageID string) string {
	return threadID + idDelimiter + messageID
}

// Decode splits an external id on the first delimiter.
func Decode(token string) Address {
	threadID, messageID, _ := strings.Cut(token, idDelimiter)
	return Address{ThreadID: threadID, MessageID: messageID}
}

// ValidID reports whether id looks like a chat snowflake.
func ValidID(id string) bool {
	if id == "" || len(id) > 20 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
