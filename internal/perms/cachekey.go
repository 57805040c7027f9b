package perms

import (
	"sort"
	"strconv"
	"strings"
)

// CacheKey builds the stable cache key for a computed permission set:
// sorted, deduplicated group ids, suffixed with "-robot" for likely
// crawlers and with the board id for board-scoped entries. Stable
// ordering keeps {5,2} and {2,5} on one entry.
func CacheKey(groupIDs []int64, robot bool, boardID int64) string {
	ids := append([]int64(nil), groupIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	b.WriteString("permissions:")
	last := int64(0)
	first := true
	for _, id := range ids {
		if !first && id == last {
			continue
		}
		if !first {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(id, 10))
		last = id
		first = false
	}
	if robot {
		b.WriteString("-robot")
	}
	if boardID > 0 {
		b.WriteString("-board")
		b.WriteString(strconv.FormatInt(boardID, 10))
	}
	return b.String()
}
