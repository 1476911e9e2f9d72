package swarm

import (
	"strings"

	"github.com/google/uuid"
)

// newID returns an identifier of the form "<prefix>_<12 hex chars>".
func newID(prefix string) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + "_" + hex[:12]
}

func subOperationID(operationID, worker string) string {
	return operationID + ":" + worker
}

// appendLimited appends item and evicts the oldest entries beyond limit.
// The returned slice never aliases the input.
func appendLimited[T any](list []T, item T, limit int) []T {
	if limit < 1 {
		limit = 1
	}
	start := 0
	if len(list)+1 > limit {
		start = len(list) + 1 - limit
	}
	out := make([]T, 0, len(list)+1-start)
	out = append(out, list[start:]...)
	return append(out, item)
}
