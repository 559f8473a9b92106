package paginate

import (
	"sort"
)

// Aggregate merges per-page extraction payloads in page order. The first page
// establishes the base keys; list-valued keys shared across pages concatenate
// in page order; keys first seen on a later page are added. When a scalar key
// collides across pages the first-seen value wins.
func Aggregate(pages []map[string]any) map[string]any {
	merged := map[string]any{}

	for _, page := range pages {
		for key, value := range page {
			existing, seen := merged[key]
			if !seen {
				merged[key] = value
				continue
			}

			existingList, existingIsList := existing.([]any)
			incomingList, incomingIsList := value.([]any)
			if existingIsList && incomingIsList {
				combined := make([]any, 0, len(existingList)+len(incomingList))
				combined = append(combined, existingList...)
				combined = append(combined, incomingList...)
				merged[key] = combined
			}
			// Scalar collision (or list/scalar mismatch): first-seen wins.
		}
	}

	return merged
}

// ItemCount reports how many items a run extracted: the length of the first
// list-valued field discovered scanning pages in order, taken from the merged
// aggregate. Ties within one page resolve alphabetically so the count is
// deterministic. Zero when no page carries a list.
func ItemCount(pages []map[string]any, merged map[string]any) int {
	for _, page := range pages {
		keys := make([]string, 0, len(page))
		for k := range page {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if _, isList := page[k].([]any); isList {
				if mergedList, ok := merged[k].([]any); ok {
					return len(mergedList)
				}
				return len(page[k].([]any))
			}
		}
	}
	return 0
}
