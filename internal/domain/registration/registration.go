package registration

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

type Registration struct {
	ID            string     `json:"id"`
	EventID       string     `json:"eventId"`
	UserID        string     `json:"userId"`
	AttendeeName  string     `json:"attendeeName"`
	AttendeeEmail string     `json:"attendeeEmail"`
	QRCode        string     `json:"qrCode"`
	Status        Status     `json:"status"`
	CheckedIn     bool       `json:"checkedIn"`
	CheckedInAt   *time.Time `json:"checkedInAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

var ErrAlreadyRegistered = errors.New("registration already exists")
var ErrEventFull = errors.New("event is full")
var ErrNotFound = errors.New("registration not found")
var ErrAlreadyCheckedIn = errors.New("registration already checked in")
var ErrAlreadyCancelled = errors.New("registration already cancelled")
var ErrNotAuthorized = errors.New("caller is not authorized for this registration")

type CreateRegistrationRequest struct {
	EventID       string `json:"eventId" binding:"required,uuid"`
	UserID        string `json:"-"`
	AttendeeName  string `json:"attendeeName" binding:"required,min=2,max=120"`
	AttendeeEmail string `json:"attendeeEmail" binding:"required,email"`
}

// A factory to build a confirmed Registration from the incoming DTO.
// The QR token is issued by the caller so token generation failures can
// fail the whole registration before anything touches storage.

func NewFromCreateRequest(req CreateRegistrationRequest, qrCode string) Registration {
	now := time.Now().UTC()
	return Registration{
		ID:            uuid.NewString(),
		EventID:       req.EventID,
		UserID:        req.UserID,
		AttendeeName:  req.AttendeeName,
		AttendeeEmail: req.AttendeeEmail,
		QRCode:        qrCode,
		Status:        StatusConfirmed,
		CheckedIn:     false,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
