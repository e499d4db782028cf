package storage

import (
	"sort"

	"github.com/fieldsync/internal/model"
)

// SortRecords сортирует записи по composed_at, при равенстве по id по возрастанию.
func SortRecords(recs []model.MessageRecord, order Order) {
	if order == OrderNone {
		return
	}
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.ComposedAt.Equal(b.ComposedAt) {
			if order == OrderComposedDesc {
				return a.ComposedAt.After(b.ComposedAt)
			}
			return a.ComposedAt.Before(b.ComposedAt)
		}
		return a.ID < b.ID
	})
}

// Page применяет offset/limit к уже отсортированной выборке.
func Page(recs []model.MessageRecord, limit, offset int) []model.MessageRecord {
	if offset > 0 {
		if offset >= len(recs) {
			return []model.MessageRecord{}
		}
		recs = recs[offset:]
	}
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}
