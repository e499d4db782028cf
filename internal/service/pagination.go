package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldsync/internal/logger"
	"github.com/fieldsync/internal/metrics"
	"github.com/fieldsync/internal/model"
)

// WalkResult: сводка по всем страницам одного прохода.
type WalkResult struct {
	Pages    int
	Fetched  int
	Inserted int
	Paired   int
}

// PaginationWalker выбирает страницы с сервера по курсору next и сливает каждую через Reconciler.
// Ошибка транспорта прерывает обход; уже слитые страницы остаются в хранилище.
type PaginationWalker struct {
	fetcher    Fetcher
	reconciler *Reconciler
	pageLimit  int
	metrics    *metrics.Sync
}

func NewPaginationWalker(fetcher Fetcher, reconciler *Reconciler, pageLimit int, m *metrics.Sync) *PaginationWalker {
	return &PaginationWalker{fetcher: fetcher, reconciler: reconciler, pageLimit: pageLimit, metrics: m}
}

// DrainAll проходит все страницы. Пустой cursor: первая страница запрашивается по handle и since,
// иначе обход продолжается с переданного курсора. Отмена ctx проверяется перед каждой страницей.
func (w *PaginationWalker) DrainAll(ctx context.Context, partitionID, handle string, since time.Time, cursor string) (WalkResult, error) {
	var res WalkResult
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var (
			page *model.MessagePage
			err  error
		)
		if cursor == "" && res.Pages == 0 {
			page, err = w.fetcher.FetchMessages(ctx, handle, since, w.pageLimit)
		} else {
			page, err = w.fetcher.FetchNextMessages(ctx, cursor)
		}
		if err != nil {
			return res, fmt.Errorf("fetch page %d: %w", res.Pages+1, err)
		}
		// страница, полученная после отмены (в том числе потери аренды), не сливается
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if page == nil {
			page = &model.MessagePage{}
		}
		res.Pages++
		res.Fetched += len(page.Messages)
		w.metrics.Fetched(len(page.Messages))

		rr, err := w.reconciler.Reconcile(ctx, partitionID, page.Messages)
		if err != nil {
			return res, err
		}
		res.Inserted += rr.Inserted
		res.Paired += rr.Paired
		w.metrics.Merged(rr.Inserted)
		w.metrics.Paired(rr.Paired)
		logger.Debugf("walker: partition=%s page=%d fetched=%d inserted=%d dup=%d dropped=%d paired=%d",
			partitionID, res.Pages, len(page.Messages), rr.Inserted, rr.Duplicates, rr.Dropped, rr.Paired)

		if page.Next == "" {
			return res, nil
		}
		if page.Next == cursor {
			return res, fmt.Errorf("%w: cursor %q repeats itself", ErrMalformedResponse, cursor)
		}
		cursor = page.Next
	}
}
