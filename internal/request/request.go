package request

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusGranted  Status = "granted"
	StatusRejected Status = "rejected"
)

// Decision reports whether s is a valid librarian verdict on a pending request.
func (s Status) Decision() bool {
	return s == StatusGranted || s == StatusRejected
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusGranted, StatusRejected:
		return st, nil
	default:
		return "", fmt.Errorf("invalid request status: %q", s)
	}
}

// Request is a user's ask to borrow an ebook. Requests are superseded, never deleted.
type Request struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	EbookID   string    `json:"ebookId"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
