package ingest

import "sort"

// Diff returns the accessions present in remote but not in local,
// de-duplicated and sorted.
func Diff(remote, local []string) []string {
	localSet := make(map[string]struct{}, len(local))
	for _, id := range local {
		localSet[id] = struct{}{}
	}

	seen := make(map[string]struct{}, len(remote))
	missing := make([]string, 0, len(remote))

	for _, id := range remote {
		if id == "" {
			continue
		}

		if _, ok := localSet[id]; ok {
			continue
		}

		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		missing = append(missing, id)
	}

	sort.Strings(missing)

	return missing
}
