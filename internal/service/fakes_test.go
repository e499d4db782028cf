package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fieldsync/internal/model"
	"github.com/fieldsync/internal/storage"
	"github.com/fieldsync/internal/storage/memory"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

func msg(id string, minutes int) model.Message {
	return model.Message{ID: id, From: "admin", To: "w1", Body: "body " + id, Kind: model.KindMessage, ComposedAt: at(minutes)}
}

func surveyMsg(id, surveyID string, minutes int, kind model.MessageKind) model.Message {
	m := msg(id, minutes)
	m.Kind = kind
	m.Survey = &model.Survey{ID: surveyID, Title: "Site check", Questions: []model.Question{
		{Prompt: "Soil wet?", Choices: []string{"yes", "no"}},
		{Prompt: "Seedlings alive?", Choices: []string{"all", "some", "none"}},
	}}
	return m
}

// fakeTransport отдаёт заранее заданные страницы: first на FetchMessages, pages[cursor] на FetchNextMessages.
type fakeTransport struct {
	mu         sync.Mutex
	first      *model.MessagePage
	pages      map[string]*model.MessagePage
	fetchErr   map[string]error
	sinceSeen  []time.Time
	cursorSeen []string
	onFetch    func()

	failPostOn int // номер вызова PostMessage (с 1), который вернёт ошибку
	postCalls  int
	posted     []string
}

func (f *fakeTransport) FetchMessages(ctx context.Context, handle string, since time.Time, limit int) (*model.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinceSeen = append(f.sinceSeen, since)
	if f.onFetch != nil {
		f.onFetch()
	}
	if err := f.fetchErr[""]; err != nil {
		return nil, err
	}
	if f.first == nil {
		return &model.MessagePage{}, nil
	}
	return f.first, nil
}

func (f *fakeTransport) FetchNextMessages(ctx context.Context, cursor string) (*model.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursorSeen = append(f.cursorSeen, cursor)
	if err := f.fetchErr[cursor]; err != nil {
		return nil, err
	}
	p, ok := f.pages[cursor]
	if !ok {
		return nil, fmt.Errorf("%w: unknown cursor %s", ErrTransport, cursor)
	}
	return p, nil
}

func (f *fakeTransport) PostMessage(ctx context.Context, rec *model.MessageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.postCalls++
	if f.postCalls == f.failPostOn {
		return fmt.Errorf("%w: status 503", ErrTransport)
	}
	f.posted = append(f.posted, rec.ID)
	return nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	completed []*SyncReport
	failed    []error
	created   []string
}

func (n *recordingNotifier) SyncCompleted(r *SyncReport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, r)
}

func (n *recordingNotifier) SyncFailed(_ string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, err)
}

func (n *recordingNotifier) MessageCreated(rec *model.MessageRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, rec.ID)
}

func newStore(t *testing.T, partitions ...*model.Partition) *memory.Client {
	t.Helper()
	c := memory.New()
	for _, p := range partitions {
		require.NoError(t, c.SavePartition(context.Background(), p))
	}
	return c
}

func planter(id, handle string) *model.Partition {
	p := &model.Partition{ID: id, CreatedAt: t0}
	if handle != "" {
		p.Identity = &model.PlanterIdentity{WalletHandle: handle}
	}
	return p
}

func insertLocal(t *testing.T, store storage.MessageStore, pid string, msgs ...model.Message) {
	t.Helper()
	err := store.Tx(context.Background(), func(tx storage.MessageTx) error {
		for _, m := range msgs {
			rec := model.NewLocalRecord(pid, m)
			if err := tx.Insert(context.Background(), &rec); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func all(t *testing.T, store storage.MessageStore, pid string) map[string]model.MessageRecord {
	t.Helper()
	recs, err := store.Query(context.Background(), pid, storage.Query{})
	require.NoError(t, err)
	out := make(map[string]model.MessageRecord, len(recs))
	for _, r := range recs {
		out[r.ID] = r
	}
	return out
}
