package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldsync/internal/logger"
	"github.com/fieldsync/internal/model"
	"github.com/fieldsync/internal/storage"
)

const defaultDisplayPageSize = 40

// MessageService: операции UI-слоя над локальными сообщениями (лента, создание, ответы на опросы).
type MessageService struct {
	messages   storage.MessageStore
	partitions storage.PartitionStore
	notifier   Notifier
	recipient  string
	pageSize   int
	now        func() time.Time
	newID      func() string
}

// NewMessageService: recipient задаёт адресата исходящих сообщений, pageSize окно ленты (<= 0 даёт 40).
func NewMessageService(
	messages storage.MessageStore,
	partitions storage.PartitionStore,
	notifier Notifier,
	recipient string,
	pageSize int,
) *MessageService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if strings.TrimSpace(recipient) == "" {
		recipient = "admin"
	}
	if pageSize <= 0 {
		pageSize = defaultDisplayPageSize
	}
	return &MessageService{
		messages:   messages,
		partitions: partitions,
		notifier:   notifier,
		recipient:  recipient,
		pageSize:   pageSize,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// RegisterPartition создаёт партицию или меняет её wallet handle (пустой handle допустим).
func (s *MessageService) RegisterPartition(ctx context.Context, id, walletHandle string) (*model.Partition, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidPartitionID
	}
	p, err := s.partitions.GetPartition(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		p = &model.Partition{ID: id, CreatedAt: s.now().UTC()}
	case err != nil:
		return nil, fmt.Errorf("register partition %s: %w", id, err)
	}
	p.Identity = nil
	if h := strings.TrimSpace(walletHandle); h != "" {
		p.Identity = &model.PlanterIdentity{WalletHandle: h}
	}
	if err := s.partitions.SavePartition(ctx, p); err != nil {
		return nil, fmt.Errorf("register partition %s: %w", id, err)
	}
	return p, nil
}

// GetPartition возвращает партицию или ErrPartitionNotFound.
func (s *MessageService) GetPartition(ctx context.Context, id string) (*model.Partition, error) {
	p, err := s.partitions.GetPartition(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("partition %s: %w", id, ErrPartitionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("partition %s: %w", id, err)
	}
	return p, nil
}

func (s *MessageService) ListPartitions(ctx context.Context) ([]model.Partition, error) {
	return s.partitions.ListPartitions(ctx)
}

// handle возвращает wallet handle партиции или ErrMissingIdentifier.
func (s *MessageService) handle(ctx context.Context, partitionID string) (string, error) {
	p, err := s.GetPartition(ctx, partitionID)
	if err != nil {
		return "", err
	}
	h, ok := p.Handle()
	if !ok {
		return "", fmt.Errorf("partition %s: %w", partitionID, ErrMissingIdentifier)
	}
	return h, nil
}

// MessagesForDisplay возвращает окно ленты: не скрытые записи, pageSize самых новых начиная с offset,
// в хронологическом порядке (старые сверху).
func (s *MessageService) MessagesForDisplay(ctx context.Context, partitionID string, offset int) ([]model.MessageRecord, error) {
	defer logger.DeferLogDuration("messages.ForDisplay", time.Now())()
	if _, err := s.GetPartition(ctx, partitionID); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	recs, err := s.messages.Query(ctx, partitionID, storage.Query{
		Hidden: storage.Bool(false),
		Order:  storage.OrderComposedDesc,
		Limit:  s.pageSize,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("messages for display %s: %w", partitionID, err)
	}
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// CreateMessage создаёт исходящее сообщение; на сервер оно уйдёт в ближайшем проходе синхронизации.
func (s *MessageService) CreateMessage(ctx context.Context, partitionID, text string) (*model.MessageRecord, error) {
	handle, err := s.handle(ctx, partitionID)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	rec := model.NewLocalRecord(partitionID, model.Message{
		ID:         s.newID(),
		From:       handle,
		To:         s.recipient,
		Body:       text,
		Kind:       model.KindMessage,
		ComposedAt: s.now().UTC(),
	})
	err = s.messages.Tx(ctx, func(tx storage.MessageTx) error {
		return tx.Insert(ctx, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("create message %s: %w", partitionID, err)
	}
	s.notifier.MessageCreated(&rec)
	return &rec, nil
}

// CreateSurveyResponse записывает ответ на опрос surveyID: по одному выбору на вопрос, каждый из
// вариантов этого вопроса. Опрос помечается отвеченным и спаривается с ответом в той же транзакции.
func (s *MessageService) CreateSurveyResponse(ctx context.Context, partitionID, surveyID string, choices []string) (*model.MessageRecord, error) {
	handle, err := s.handle(ctx, partitionID)
	if err != nil {
		return nil, err
	}
	var rec model.MessageRecord
	err = s.messages.Tx(ctx, func(tx storage.MessageTx) error {
		prompts, err := tx.Query(ctx, partitionID, storage.Query{
			SurveyID: surveyID,
			Kind:     model.KindSurvey,
			Hidden:   storage.Bool(false),
			Order:    storage.OrderComposedAsc,
			Limit:    1,
		})
		if err != nil {
			return err
		}
		if len(prompts) == 0 {
			return ErrSurveyNotFound
		}
		prompt := &prompts[0]
		if err := validateChoices(prompt.Survey, choices); err != nil {
			return err
		}

		survey := prompt.Survey.Clone()
		survey.Answered = true
		to := prompt.From
		if to == "" {
			to = s.recipient
		}
		parentID := prompt.ID
		rec = model.NewLocalRecord(partitionID, model.Message{
			ID:             s.newID(),
			ParentID:       &parentID,
			From:           handle,
			To:             to,
			Subject:        survey.Title,
			Kind:           model.KindSurveyResponse,
			ComposedAt:     s.now().UTC(),
			Survey:         survey,
			SurveyResponse: append([]string(nil), choices...),
		})
		if err := tx.Insert(ctx, &rec); err != nil {
			return err
		}
		if err := tx.Apply(ctx, partitionID, prompt.ID, storage.FlagUpdate{MarkSurveyAnswered: true}); err != nil {
			return err
		}
		if _, err := pairSurveys(ctx, tx, partitionID); err != nil {
			return err
		}
		// после спаривания ответ скрыт из ленты: возвращаем запись в её итоговом состоянии
		after, err := tx.Query(ctx, partitionID, storage.Query{SurveyID: surveyID, Kind: model.KindSurveyResponse})
		if err != nil {
			return err
		}
		for i := range after {
			if after[i].ID == rec.ID {
				rec = after[i]
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("survey response %s/%s: %w", partitionID, surveyID, err)
	}
	s.notifier.MessageCreated(&rec)
	return &rec, nil
}

func validateChoices(survey *model.Survey, choices []string) error {
	if len(choices) != len(survey.Questions) {
		return fmt.Errorf("%w: %d answers for %d questions", ErrInvalidSurveyResponse, len(choices), len(survey.Questions))
	}
	for i, q := range survey.Questions {
		found := false
		for _, c := range q.Choices {
			if c == choices[i] {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %q is not a choice of question %d", ErrInvalidSurveyResponse, choices[i], i+1)
		}
	}
	return nil
}

// MarkRead снимает unread с записей. Неизвестный id: storage.ErrNotFound, ничего не меняется.
func (s *MessageService) MarkRead(ctx context.Context, partitionID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.messages.Tx(ctx, func(tx storage.MessageTx) error {
		for _, id := range ids {
			if err := tx.Apply(ctx, partitionID, id, storage.FlagUpdate{MarkRead: true}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark read %s: %w", partitionID, err)
	}
	return nil
}
