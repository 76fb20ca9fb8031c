// Temporary message identifiers.
//
// Optimistic UI inserts placeholder messages before the server has assigned
// an id. Placeholder ids live in their own namespace: a distinguishing prefix
// plus a timestamp and a process-wide monotonic counter, so they can never
// collide with server-assigned ids (UUIDs) nor with each other under
// concurrent sends.
package domain

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

const (
	tempUserPrefix  = "temp-user-"
	tempErrorPrefix = "temp-error-"
)

var tempSeq atomic.Uint64

// NewTempUserID returns a fresh placeholder id for an optimistic user message.
func NewTempUserID() string {
	return fmt.Sprintf("%s%d-%d", tempUserPrefix, time.Now().UnixNano(), tempSeq.Add(1))
}

// NewTempErrorID returns a fresh id for a locally generated system message.
func NewTempErrorID() string {
	return fmt.Sprintf("%s%d-%d", tempErrorPrefix, time.Now().UnixNano(), tempSeq.Add(1))
}

// IsTempID reports whether id belongs to the client-only placeholder
// namespace (never a server-assigned id).
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempUserPrefix) || strings.HasPrefix(id, tempErrorPrefix)
}
