package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldsync/internal/logger"
	"github.com/fieldsync/internal/model"
	"github.com/fieldsync/internal/storage"
)

// querier: общее подмножество *pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Query(ctx context.Context, partitionID string, q storage.Query) ([]model.MessageRecord, error) {
	defer logger.DeferLogDuration("msg.Query", time.Now())()
	return queryRecords(ctx, r.pool, partitionID, q)
}

// Tx выполняет fn в одной транзакции PostgreSQL; ошибка fn откатывает всё.
func (r *MessageRepository) Tx(ctx context.Context, fn func(tx storage.MessageTx) error) error {
	defer logger.DeferLogDuration("msg.Tx", time.Now())()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&messageTx{q: tx})
	})
	if err != nil {
		return fmt.Errorf("msgRepo.Tx: %w", err)
	}
	return nil
}

type messageTx struct {
	q querier
}

func (t *messageTx) Query(ctx context.Context, partitionID string, q storage.Query) ([]model.MessageRecord, error) {
	return queryRecords(ctx, t.q, partitionID, q)
}

func (t *messageTx) IDs(ctx context.Context, partitionID string) (map[string]struct{}, error) {
	rows, err := t.q.Query(ctx, `SELECT id FROM message_records WHERE partition_id = $1`, partitionID)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.IDs query: %w", err)
	}
	defer rows.Close()
	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("msgRepo.IDs scan: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.IDs rows: %w", err)
	}
	return ids, nil
}

func (t *messageTx) Insert(ctx context.Context, m *model.MessageRecord) error {
	var surveyID, surveyTitle *string
	answered := false
	if m.Survey != nil {
		surveyID, surveyTitle = &m.Survey.ID, &m.Survey.Title
		answered = m.Survey.Answered
	}
	tag, err := t.q.Exec(ctx,
		`INSERT INTO message_records (partition_id, id, parent_id, sender, recipient, subject, body, kind, composed_at,
		        video_link, survey_id, survey_title, survey_answered, survey_response, uploaded, unread, hidden)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (partition_id, id) DO NOTHING`,
		m.PartitionID, m.ID, m.ParentID, m.From, m.To, m.Subject, m.Body, string(m.Kind), m.ComposedAt,
		m.VideoLink, surveyID, surveyTitle, answered, m.SurveyResponse, m.Uploaded, m.Unread, m.Hidden,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Insert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("msgRepo.Insert %s: %w", m.ID, storage.ErrAlreadyExists)
	}
	if m.Survey == nil {
		return nil
	}
	for i, q := range m.Survey.Questions {
		if _, err := t.q.Exec(ctx,
			`INSERT INTO survey_questions (partition_id, message_id, position, prompt, choices)
			 VALUES ($1, $2, $3, $4, $5)`,
			m.PartitionID, m.ID, i, q.Prompt, q.Choices,
		); err != nil {
			return fmt.Errorf("msgRepo.Insert question %d: %w", i, err)
		}
	}
	return nil
}

// Apply меняет флаги только в монотонном направлении (никогда не сбрасывает uploaded/hidden и не возвращает unread).
func (t *messageTx) Apply(ctx context.Context, partitionID, id string, u storage.FlagUpdate) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE message_records SET
		   uploaded = uploaded OR $3,
		   unread = unread AND NOT $4,
		   hidden = hidden OR $5,
		   survey_answered = survey_answered OR ($6 AND survey_id IS NOT NULL)
		 WHERE partition_id = $1 AND id = $2`,
		partitionID, id, u.MarkUploaded, u.MarkRead, u.Hide, u.MarkSurveyAnswered,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Apply: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("msgRepo.Apply %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

const recordColumns = `id, parent_id, sender, recipient, subject, body, kind, composed_at, video_link,
	survey_id, survey_title, survey_answered, survey_response, uploaded, unread, hidden`

func buildQuery(partitionID string, q storage.Query) (string, []any) {
	var sb strings.Builder
	args := []any{partitionID}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	sb.WriteString(`SELECT ` + recordColumns + ` FROM message_records WHERE partition_id = $1`)
	if q.Uploaded != nil {
		sb.WriteString(` AND uploaded = ` + arg(*q.Uploaded))
	}
	if q.Hidden != nil {
		sb.WriteString(` AND hidden = ` + arg(*q.Hidden))
	}
	if q.Unread != nil {
		sb.WriteString(` AND unread = ` + arg(*q.Unread))
	}
	if q.HasSurvey {
		sb.WriteString(` AND survey_id IS NOT NULL`)
	}
	if q.SurveyID != "" {
		sb.WriteString(` AND survey_id = ` + arg(q.SurveyID))
	}
	if q.Kind != "" {
		sb.WriteString(` AND kind = ` + arg(string(q.Kind)))
	}
	switch q.Order {
	case storage.OrderComposedDesc:
		sb.WriteString(` ORDER BY composed_at DESC, id`)
	default:
		sb.WriteString(` ORDER BY composed_at, id`)
	}
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ` + arg(q.Limit))
	}
	if q.Offset > 0 {
		sb.WriteString(` OFFSET ` + arg(q.Offset))
	}
	return sb.String(), args
}

func queryRecords(ctx context.Context, db querier, partitionID string, q storage.Query) ([]model.MessageRecord, error) {
	sql, args := buildQuery(partitionID, q)
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Query query: %w", err)
	}
	defer rows.Close()

	records := make([]model.MessageRecord, 0, 16)
	var withSurvey []string
	for rows.Next() {
		m := model.MessageRecord{PartitionID: partitionID}
		var (
			kind                  string
			surveyID, surveyTitle *string
			answered              bool
		)
		if err := rows.Scan(&m.ID, &m.ParentID, &m.From, &m.To, &m.Subject, &m.Body, &kind, &m.ComposedAt, &m.VideoLink,
			&surveyID, &surveyTitle, &answered, &m.SurveyResponse, &m.Uploaded, &m.Unread, &m.Hidden); err != nil {
			return nil, fmt.Errorf("msgRepo.Query scan: %w", err)
		}
		m.Kind = model.MessageKind(kind)
		m.ComposedAt = m.ComposedAt.UTC()
		if surveyID != nil {
			m.Survey = &model.Survey{ID: *surveyID, Answered: answered}
			if surveyTitle != nil {
				m.Survey.Title = *surveyTitle
			}
			withSurvey = append(withSurvey, m.ID)
		}
		records = append(records, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.Query rows: %w", err)
	}
	rows.Close()

	if len(withSurvey) == 0 {
		return records, nil
	}
	questions, err := loadQuestions(ctx, db, partitionID, withSurvey)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Survey != nil {
			records[i].Survey.Questions = questions[records[i].ID]
		}
	}
	return records, nil
}

func loadQuestions(ctx context.Context, db querier, partitionID string, messageIDs []string) (map[string][]model.Question, error) {
	rows, err := db.Query(ctx,
		`SELECT message_id, prompt, choices FROM survey_questions
		 WHERE partition_id = $1 AND message_id = ANY($2)
		 ORDER BY message_id, position`, partitionID, messageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.loadQuestions query: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]model.Question, len(messageIDs))
	for rows.Next() {
		var (
			id string
			q  model.Question
		)
		if err := rows.Scan(&id, &q.Prompt, &q.Choices); err != nil {
			return nil, fmt.Errorf("msgRepo.loadQuestions scan: %w", err)
		}
		out[id] = append(out[id], q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.loadQuestions rows: %w", err)
	}
	return out, nil
}

// CountByPartition возвращает число записей и число неотправленных (для syncctl status).
func (r *MessageRepository) CountByPartition(ctx context.Context, partitionID string) (total, pending int, err error) {
	defer logger.DeferLogDuration("msg.CountByPartition", time.Now())()
	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT uploaded) FROM message_records WHERE partition_id = $1`, partitionID,
	).Scan(&total, &pending)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("msgRepo.CountByPartition: %w", err)
	}
	return total, pending, nil
}
