package puller

import (
	"github.com/dmitrijs2005/loancollect/internal/client/models"
)

// Merge reconciles one collection. It is a pure function of its inputs.
//
//   - Remote records start the result, except ids with a delete still
//     queued locally and records carrying a deletion marker.
//   - An id on both sides keeps the later UpdatedAt; ties and missing
//     timestamps go to remote.
//   - A local-only record survives if it is pending create, or if the pull
//     was incremental. A full pull drops every other local-only record.
//   - A remote record carrying a deletion marker is skipped; the local copy
//     then follows the local-only rule.
//   - Tombstoned ids are removed regardless of the rules above.
//
// The result lists remote order first, then retained local records in their
// local order.
func Merge[T models.Record](local, remote []T, pendingCreate, pendingDelete, tombstones models.IDSet, isFullSync bool) []T {
	localByID := make(map[string]T, len(local))
	for _, l := range local {
		localByID[l.GetID()] = l
	}

	removed := models.IDSet{}
	for id := range tombstones {
		removed.Add(id)
	}

	out := make([]T, 0, len(remote)+len(local))
	at := make(map[string]int, len(remote))
	for _, r := range remote {
		id := r.GetID()
		if removed.Has(id) || pendingDelete.Has(id) || r.GetDeletedAt() != nil {
			continue
		}

		pick := r
		if l, ok := localByID[id]; ok && l.GetUpdatedAt().After(r.GetUpdatedAt()) {
			pick = l
		}

		if i, dup := at[id]; dup {
			if pick.GetUpdatedAt().After(out[i].GetUpdatedAt()) {
				out[i] = pick
			}
			continue
		}
		at[id] = len(out)
		out = append(out, pick)
	}

	for _, l := range local {
		id := l.GetID()
		if _, inRemote := at[id]; inRemote || removed.Has(id) {
			continue
		}
		if pendingCreate.Has(id) || !isFullSync {
			at[id] = len(out)
			out = append(out, l)
		}
	}
	return out
}
