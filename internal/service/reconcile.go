package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldsync/internal/logger"
	"github.com/fieldsync/internal/model"
	"github.com/fieldsync/internal/storage"
)

// ReconcileResult: итог слияния одной страницы.
type ReconcileResult struct {
	Inserted int
	// Duplicates: сообщения, чей id уже был в партиции (или повторялся в самой странице).
	Duplicates int
	// Dropped: сообщения без id и эхо уже отвеченных опросов.
	Dropped int
	Paired  int
}

// Reconciler сливает входящие сообщения в локальное хранилище без дублей.
// Первая запись с данным id выигрывает: существующие записи не перезаписываются.
type Reconciler struct {
	store storage.MessageStore
}

func NewReconciler(store storage.MessageStore) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile вставляет новые сообщения и выполняет проход спаривания опросов.
// Всё выполняется в одной транзакции: читатель не увидит новую запись без результата спаривания.
func (r *Reconciler) Reconcile(ctx context.Context, partitionID string, incoming []model.Message) (ReconcileResult, error) {
	defer logger.DeferLogDuration("reconciler.Reconcile", time.Now())()
	if len(incoming) == 0 {
		return ReconcileResult{}, nil
	}
	var res ReconcileResult
	err := r.store.Tx(ctx, func(tx storage.MessageTx) error {
		res = ReconcileResult{}
		existing, err := tx.IDs(ctx, partitionID)
		if err != nil {
			return err
		}
		for i := range incoming {
			m := incoming[i]
			switch {
			case m.ID == "":
				logger.Warnf("reconcile: partition=%s: сообщение без id от %q пропущено", partitionID, m.From)
				res.Dropped++
				continue
			case m.IsAnsweredSurveyEcho():
				res.Dropped++
				continue
			}
			if _, ok := existing[m.ID]; ok {
				res.Duplicates++
				continue
			}
			if m.Survey != nil && m.Survey.ID == "" {
				logger.Warnf("reconcile: partition=%s: сообщение %s с опросом без survey id, в спаривании не участвует", partitionID, m.ID)
			}
			rec := model.NewRemoteRecord(partitionID, m)
			if err := tx.Insert(ctx, &rec); err != nil {
				return err
			}
			existing[m.ID] = struct{}{}
			res.Inserted++
		}
		if res.Inserted == 0 {
			return nil
		}
		res.Paired, err = pairSurveys(ctx, tx, partitionID)
		return err
	})
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("reconcile %s: %w", partitionID, err)
	}
	return res, nil
}

// pairSurveys скрывает пары «опрос + ответ» с одинаковым survey id. Записи с пустым survey id
// не образуют группу.
// Не больше одной пары на survey id: если в группе уже есть скрытая запись, группа спарена,
// иначе спариваются первые две по (composed_at, id). Остальные записи группы остаются видимыми.
func pairSurveys(ctx context.Context, tx storage.MessageTx, partitionID string) (int, error) {
	recs, err := tx.Query(ctx, partitionID, storage.Query{HasSurvey: true, Order: storage.OrderComposedAsc})
	if err != nil {
		return 0, err
	}
	groups := make(map[string][]*model.MessageRecord)
	var order []string
	for i := range recs {
		if recs[i].Survey == nil || recs[i].Survey.ID == "" {
			continue
		}
		id := recs[i].Survey.ID
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], &recs[i])
	}

	paired := 0
	for _, id := range order {
		g := groups[id]
		if len(g) < 2 || anyHidden(g) {
			continue
		}
		for _, rec := range g[:2] {
			if err := tx.Apply(ctx, partitionID, rec.ID, storage.FlagUpdate{Hide: true, MarkRead: true}); err != nil {
				return paired, err
			}
		}
		paired++
	}
	return paired, nil
}

func anyHidden(recs []*model.MessageRecord) bool {
	for _, r := range recs {
		if r.Hidden {
			return true
		}
	}
	return false
}
