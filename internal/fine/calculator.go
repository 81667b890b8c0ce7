package fine

import "time"

const (
	// DailyRate is charged for every started day past the due date.
	DailyRate int64 = 10
	// LoanPeriod is the time between issue and due date.
	LoanPeriod = 7 * 24 * time.Hour

	day = 24 * time.Hour
)

// ComputeFine returns the amount owed for a loan due at due, evaluated at now.
// Partial days round up; there is no grace period.
func ComputeFine(due *time.Time, now time.Time) int64 {
	if due == nil || !now.After(*due) {
		return 0
	}
	overdue := now.Sub(*due)
	days := int64(overdue / day)
	if overdue%day != 0 {
		days++
	}
	return days * DailyRate
}

// DueDate returns the return date for a loan issued at issued.
func DueDate(issued time.Time) time.Time {
	return issued.Add(LoanPeriod)
}
