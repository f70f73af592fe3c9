// Package listing defines the unit of work for the posting engine: one
// classified-ad listing, its lifecycle status, and the typed error attached
// to it when a workflow run fails.
package listing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status tracks a listing through the batch lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// validTransitions encodes the only status moves the engine ever performs.
// Failed -> Pending is the manual retry path and is reachable only through
// Listing.Reset, never from the processor itself.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusPending},
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Condition is the advertised condition of the item being listed.
type Condition string

const (
	ConditionNew         Condition = "New"
	ConditionUsed        Condition = "Used"
	ConditionRefurbished Condition = "Refurbished"
)

// Location is the three-level place hierarchy the target site drills through.
// Each field is a key into the static Locations table.
type Location struct {
	Country string `json:"country"`
	County  string `json:"county"`
	// Area is the third level. It may be empty, in which case the workflow
	// commits the two-level location and skips the third drill-down.
	Area string `json:"area,omitempty"`
}

func (l Location) String() string {
	parts := []string{l.Country, l.County}
	if l.Area != "" {
		parts = append(parts, l.Area)
	}
	return strings.Join(parts, " / ")
}

// ErrorKind classifies a workflow failure. The set mirrors the failure modes
// the state machine distinguishes between for retry decisions.
type ErrorKind string

const (
	ErrLocatorNotFound     ErrorKind = "locator_not_found"
	ErrSessionInvalid      ErrorKind = "session_invalid"
	ErrNetworkTimeout      ErrorKind = "network_timeout"
	ErrUploadSkipped       ErrorKind = "upload_skipped"
	ErrSubmissionRejected  ErrorKind = "submission_rejected"
	ErrUnknownPageState    ErrorKind = "unknown_page_state"
	ErrBatchFatal          ErrorKind = "batch_fatal"
)

// Error is the structured failure record persisted on a Listing. State names
// the workflow state that originated the failure.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	State   string    `json:"state"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s in state %s: %s", e.Kind, e.State, e.Message)
}

// Listing is one pending ad submission.
type Listing struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	// Category seeds the site's category-suggestion search. Empty falls back
	// to the title.
	Category string `json:"category,omitempty"`
	// Price is held in pence to avoid float drift in the persisted document.
	PricePence int64     `json:"price_pence"`
	Condition  Condition `json:"condition"`
	Location   Location  `json:"location"`
	Photos     []string  `json:"photos,omitempty"`
	Status     Status    `json:"status"`
	Attempts   int       `json:"attempts"`
	LastError  *Error    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// New builds a pending listing with a fresh id and creation timestamps.
func New(title, description string, pricePence int64) Listing {
	now := time.Now().UTC()
	return Listing{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		PricePence:  pricePence,
		Condition:   ConditionNew,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// CategoryQuery is the text typed into the category search box.
func (l *Listing) CategoryQuery() string {
	if l.Category != "" {
		return l.Category
	}
	return l.Title
}

// Price renders the pence amount as the decimal string the price field expects.
func (l *Listing) Price() string {
	return strconv.FormatFloat(float64(l.PricePence)/100, 'f', 2, 64)
}

// Reset returns a failed listing to the pending pool for another attempt.
// This is the only road back from Failed and is always operator-initiated.
func (l *Listing) Reset() error {
	if l.Status != StatusFailed {
		return fmt.Errorf("listing %s is %s, only failed listings can be reset", l.ID, l.Status)
	}
	l.Status = StatusPending
	l.LastError = nil
	l.UpdatedAt = time.Now().UTC()
	return nil
}

// Validate checks the fields the workflow cannot proceed without.
func (l *Listing) Validate() error {
	if l.Title == "" {
		return fmt.Errorf("listing %s: title is required", l.ID)
	}
	if l.PricePence < 0 {
		return fmt.Errorf("listing %s: price must be non-negative", l.ID)
	}
	switch l.Condition {
	case ConditionNew, ConditionUsed, ConditionRefurbished:
	case "":
		l.Condition = ConditionNew
	default:
		return fmt.Errorf("listing %s: unknown condition %q", l.ID, l.Condition)
	}
	if l.Location.Country == "" || l.Location.County == "" {
		return fmt.Errorf("listing %s: location requires at least country and county", l.ID)
	}
	return nil
}
