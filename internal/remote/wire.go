package remote

import (
	"time"

	"github.com/fieldsync/internal/model"
)

// Формат JSON messaging API. Поле type совпадает со значениями model.MessageKind.

type wireQuestion struct {
	Prompt  string   `json:"prompt"`
	Choices []string `json:"choices"`
}

type wireSurvey struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Questions []wireQuestion `json:"questions"`
	Answered  bool           `json:"answered,omitempty"`
}

type wireMessage struct {
	ID              string      `json:"id"`
	ParentMessageID *string     `json:"parent_message_id,omitempty"`
	From            string      `json:"from"`
	To              string      `json:"to"`
	Subject         string      `json:"subject,omitempty"`
	Body            string      `json:"body,omitempty"`
	Type            string      `json:"type"`
	ComposedAt      time.Time   `json:"composed_at"`
	VideoLink       string      `json:"video_link,omitempty"`
	Survey          *wireSurvey `json:"survey,omitempty"`
	SurveyResponse  []string    `json:"survey_response,omitempty"`
}

type wireLinks struct {
	Prev string `json:"prev,omitempty"`
	Next string `json:"next,omitempty"`
}

type messagesResponse struct {
	Messages []wireMessage `json:"messages"`
	Links    *wireLinks    `json:"links,omitempty"`
}

func (w *wireMessage) toModel() model.Message {
	m := model.Message{
		ID:             w.ID,
		ParentID:       w.ParentMessageID,
		From:           w.From,
		To:             w.To,
		Subject:        w.Subject,
		Body:           w.Body,
		Kind:           model.MessageKind(w.Type),
		ComposedAt:     w.ComposedAt.UTC(),
		VideoLink:      w.VideoLink,
		SurveyResponse: w.SurveyResponse,
	}
	if w.Survey != nil {
		s := &model.Survey{ID: w.Survey.ID, Title: w.Survey.Title, Answered: w.Survey.Answered}
		for _, q := range w.Survey.Questions {
			s.Questions = append(s.Questions, model.Question{Prompt: q.Prompt, Choices: q.Choices})
		}
		m.Survey = s
	}
	return m
}

func fromRecord(r *model.MessageRecord) wireMessage {
	w := wireMessage{
		ID:              r.ID,
		ParentMessageID: r.ParentID,
		From:            r.From,
		To:              r.To,
		Subject:         r.Subject,
		Body:            r.Body,
		Type:            string(r.Kind),
		ComposedAt:      r.ComposedAt.UTC(),
		VideoLink:       r.VideoLink,
		SurveyResponse:  r.SurveyResponse,
	}
	if r.Survey != nil {
		ws := &wireSurvey{ID: r.Survey.ID, Title: r.Survey.Title, Answered: r.Survey.Answered}
		for _, q := range r.Survey.Questions {
			ws.Questions = append(ws.Questions, wireQuestion{Prompt: q.Prompt, Choices: q.Choices})
		}
		w.Survey = ws
	}
	return w
}
