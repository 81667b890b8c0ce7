package ebook

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusAvailable     Status = "available"
	StatusRequested     Status = "requested"
	StatusIssued        Status = "issued"
	StatusPendingReturn Status = "pendingReturn"
	// StatusReturned is kept for records written before approve-return ended in available.
	StatusReturned Status = "returned"
)

// Held reports whether a reader currently has the ebook.
func (s Status) Held() bool {
	return s == StatusIssued || s == StatusPendingReturn
}

// Lendable reports whether the ebook can be granted to a requester.
func (s Status) Lendable() bool {
	return s == StatusAvailable || s == StatusReturned
}

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusRequested, StatusIssued, StatusPendingReturn, StatusReturned:
		return true
	}
	return false
}

type Ebook struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Content          string     `json:"content,omitempty"`
	Authors          []string   `json:"authors"`
	SectionID        string     `json:"sectionId,omitempty"`
	Status           Status     `json:"status"`
	IssuedTo         *string    `json:"issuedTo,omitempty"`
	DateIssued       *time.Time `json:"dateIssued,omitempty"`
	ReturnDate       *time.Time `json:"returnDate,omitempty"`
	ActualReturnDate *time.Time `json:"actualReturnDate,omitempty"`
	FineAmount       int64      `json:"fineAmount"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// HeldBy reports whether userID is the current holder.
func (e Ebook) HeldBy(userID string) bool {
	return e.Status.Held() && e.IssuedTo != nil && *e.IssuedTo == userID
}

// CheckInvariants verifies that the holder fields agree with the status.
func (e Ebook) CheckInvariants() error {
	if !e.Status.Valid() {
		return fmt.Errorf("ebook %s: unknown status %q", e.ID, e.Status)
	}
	if (e.IssuedTo != nil) != e.Status.Held() {
		return fmt.Errorf("ebook %s: issuedTo set=%t with status %s", e.ID, e.IssuedTo != nil, e.Status)
	}
	if (e.ReturnDate != nil) != (e.IssuedTo != nil) {
		return fmt.Errorf("ebook %s: returnDate set=%t with issuedTo set=%t", e.ID, e.ReturnDate != nil, e.IssuedTo != nil)
	}
	return nil
}

func (e Ebook) issuedTo(userID string, now, due time.Time) Ebook {
	holder := userID
	e.Status = StatusIssued
	e.IssuedTo = &holder
	e.DateIssued = &now
	e.ReturnDate = &due
	e.FineAmount = 0
	e.UpdatedAt = now
	return e
}

// released clears the holder. dateIssued is kept as history.
func (e Ebook) released(now time.Time, stampReturn bool) Ebook {
	e.Status = StatusAvailable
	e.IssuedTo = nil
	e.ReturnDate = nil
	e.FineAmount = 0
	if stampReturn {
		e.ActualReturnDate = &now
	}
	e.UpdatedAt = now
	return e
}

func (e Ebook) pendingReturn(now time.Time) Ebook {
	e.Status = StatusPendingReturn
	e.UpdatedAt = now
	return e
}

// NewEbook is the librarian input for adding a title.
type NewEbook struct {
	Title     string   `json:"title" validate:"required,max=300"`
	Content   string   `json:"content"`
	Authors   []string `json:"authors" validate:"required,min=1,dive,required"`
	SectionID string   `json:"sectionId"`
}

// EbookEdit is the librarian input for changing catalogue fields. Nil Content
// or SectionID keep the stored value. Version, when set, must match the stored
// version.
type EbookEdit struct {
	Title     string   `json:"title" validate:"required,max=300"`
	Content   *string  `json:"content"`
	Authors   []string `json:"authors" validate:"required,min=1,dive,required"`
	SectionID *string  `json:"sectionId"`
	Version   *int64   `json:"version"`
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	IssuedTo string
	Statuses []Status
	Limit    int
	Offset   int
}
