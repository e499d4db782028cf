package model

import "time"

type MessageKind string

const (
	KindMessage        MessageKind = "message"
	KindAnnouncement   MessageKind = "announce"
	KindSurvey         MessageKind = "survey"
	KindSurveyResponse MessageKind = "survey_response"
)

// Valid сообщает, известен ли тип сообщения.
func (k MessageKind) Valid() bool {
	switch k {
	case KindMessage, KindAnnouncement, KindSurvey, KindSurveyResponse:
		return true
	}
	return false
}

type Question struct {
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices"`
}

// Survey: опрос, встроенный в сообщение. Один и тот же ID может встречаться
// у нескольких сохранённых копий (сам опрос и ответ на него).
type Survey struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
	Answered  bool       `json:"answered"`
}

// Clone возвращает глубокую копию опроса.
func (s *Survey) Clone() *Survey {
	if s == nil {
		return nil
	}
	c := *s
	if s.Questions != nil {
		c.Questions = make([]Question, len(s.Questions))
		for i, q := range s.Questions {
			c.Questions[i] = Question{Prompt: q.Prompt, Choices: append([]string(nil), q.Choices...)}
		}
	}
	return &c
}

// Message: неизменяемая запись передачи. Пришла с сервера или только что создана на устройстве.
type Message struct {
	ID             string      `json:"id"`
	ParentID       *string     `json:"parent_id,omitempty"`
	From           string      `json:"from"`
	To             string      `json:"to"`
	Subject        string      `json:"subject,omitempty"`
	Body           string      `json:"body,omitempty"`
	Kind           MessageKind `json:"kind"`
	ComposedAt     time.Time   `json:"composed_at"`
	VideoLink      string      `json:"video_link,omitempty"`
	Survey         *Survey     `json:"survey,omitempty"`
	SurveyResponse []string    `json:"survey_response,omitempty"`
}

// IsAnsweredSurveyEcho: опрос, который сервер уже пометил отвеченным.
// Такие эхо-копии не сохраняются как новые опросы.
func (m *Message) IsAnsweredSurveyEcho() bool {
	return m.Kind == KindSurvey && m.Survey != nil && m.Survey.Answered
}

// MessageRecord: локально хранимая изменяемая запись.
// Uploaded и Hidden меняются только false → true, Unread только true → false.
type MessageRecord struct {
	Message
	PartitionID string `json:"partition_id"`
	Uploaded    bool   `json:"uploaded"`
	Unread      bool   `json:"unread"`
	Hidden      bool   `json:"hidden"`
}

// NewRemoteRecord строит запись для сообщения, полученного с сервера.
func NewRemoteRecord(partitionID string, m Message) MessageRecord {
	m.Survey = m.Survey.Clone()
	m.SurveyResponse = append([]string(nil), m.SurveyResponse...)
	return MessageRecord{Message: m, PartitionID: partitionID, Uploaded: true, Unread: true}
}

// NewLocalRecord строит запись для сообщения, созданного на устройстве (ещё не отправлено).
func NewLocalRecord(partitionID string, m Message) MessageRecord {
	m.Survey = m.Survey.Clone()
	return MessageRecord{Message: m, PartitionID: partitionID}
}

// MessagePage: страница входящих сообщений. Пустой Next означает конец потока.
type MessagePage struct {
	Messages []Message
	Next     string
}
