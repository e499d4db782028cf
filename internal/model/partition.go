package model

import (
	"strings"
	"time"
)

// PlanterIdentity: подтверждённая личность полевого сотрудника.
type PlanterIdentity struct {
	WalletHandle string `json:"wallet_handle"`
}

// Partition: область (пользователь/сессия), внутри которой уникальны ID сообщений.
// Identity == nil: сотрудник ещё не идентифицирован.
type Partition struct {
	ID        string           `json:"id"`
	Identity  *PlanterIdentity `json:"identity,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Handle возвращает wallet handle, если он есть.
func (p *Partition) Handle() (string, bool) {
	if p == nil || p.Identity == nil {
		return "", false
	}
	h := strings.TrimSpace(p.Identity.WalletHandle)
	return h, h != ""
}
