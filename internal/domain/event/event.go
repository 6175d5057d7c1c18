package event

import (
	"errors"
	"time"
)

type TicketType string

const (
	TicketFree TicketType = "free"
	TicketPaid TicketType = "paid"
)

// Event is the reference view of an event owned by the metadata service.
// The core only stores what the registration invariants need: the organizer,
// the capacity and the denormalized confirmed-registration counter.
type Event struct {
	ID                string     `json:"id"`
	OrganizerID       string     `json:"organizerId"`
	Title             string     `json:"title"`
	Venue             string     `json:"venue,omitempty"`
	Capacity          int        `json:"capacity"`
	RegistrationCount int        `json:"registrationCount"`
	TicketType        TicketType `json:"ticketType"`
	TicketPrice       *int64     `json:"ticketPrice,omitempty"` // informational, minor units
	StartAt           time.Time  `json:"startAt"`
	EndAt             time.Time  `json:"endAt"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

var ErrNotFound = errors.New("event not found")

// SeatsLeft is a read-side convenience; writes never rely on it.
func (e Event) SeatsLeft() int {
	left := e.Capacity - e.RegistrationCount

	if left < 0 {
		return 0
	}

	return left
}
