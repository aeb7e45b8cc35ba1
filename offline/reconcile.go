package offline

// Reconcile derives the effective record set from the authoritative snapshot
// and the pending journals:
//
//  1. start from snapshot (the first occurrence of an id wins);
//  2. drop every id in deletes;
//  3. overlay each pending update onto its snapshot record;
//  4. append every pending create whose id is not already present, with its
//     own pending update overlaid.
//
// Journal state always wins over snapshot state. Reconcile performs no I/O,
// does not modify its inputs and is safe to call concurrently.
func Reconcile(snapshot []Record, creates []Record, updates map[ID]Patch, deletes []ID) []Record {
	deleted := make(map[ID]struct{}, len(deletes))
	for _, id := range deletes {
		deleted[id] = struct{}{}
	}

	out := make([]Record, 0, len(snapshot)+len(creates))
	seen := make(map[ID]struct{}, len(snapshot)+len(creates))
	for _, r := range snapshot {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		if _, gone := deleted[r.ID]; gone {
			continue
		}
		out = append(out, overlay(r, updates))
	}

	for _, r := range creates {
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		if _, gone := deleted[r.ID]; gone {
			continue
		}
		out = append(out, overlay(r, updates))
	}
	return out
}

func overlay(r Record, updates map[ID]Patch) Record {
	r = r.Clone()
	if p, ok := updates[r.ID]; ok && !p.IsEmpty() {
		r.Fields = p.Apply(r.Fields)
	}
	return r
}
