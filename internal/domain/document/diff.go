package document

// Diff computes the changes that turn the result set prev into next. Removals
// come first in prev order, then additions and modifications in next order.
// A document counts as modified when its version changed.
func Diff(prev, next []Document) Batch {
	before := make(map[string]int64, len(prev))
	for _, d := range prev {
		before[d.ID] = d.Version
	}
	after := make(map[string]struct{}, len(next))
	for _, d := range next {
		after[d.ID] = struct{}{}
	}

	var batch Batch
	for _, d := range prev {
		if _, ok := after[d.ID]; !ok {
			batch = append(batch, Change{Type: Removed, Doc: d})
		}
	}
	for _, d := range next {
		v, ok := before[d.ID]
		switch {
		case !ok:
			batch = append(batch, Change{Type: Added, Doc: d})
		case v != d.Version:
			batch = append(batch, Change{Type: Modified, Doc: d})
		}
	}
	return batch
}

// Initial expresses a full result set as the subscription's first delivery.
func Initial(docs []Document) Batch {
	batch := make(Batch, len(docs))
	for i, d := range docs {
		batch[i] = Change{Type: Added, Doc: d}
	}
	return batch
}
