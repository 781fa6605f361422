package models

import "time"

// TripStatus is the booking state of a trip
type TripStatus string

const (
	TripQuoted    TripStatus = "COTIZADO"
	TripBooked    TripStatus = "RESERVADO"
	TripConfirmed TripStatus = "CONFIRMADO"
	TripCompleted TripStatus = "COMPLETADO"
	TripCancelled TripStatus = "CANCELADO"
)

// Valid reports whether s is a known booking state
func (s TripStatus) Valid() bool {
	switch s {
	case TripQuoted, TripBooked, TripConfirmed, TripCompleted, TripCancelled:
		return true
	}
	return false
}

// DateLayout is the storage layout for calendar dates
const DateLayout = "2006-01-02"

// Trip represents a booking made for a contact
type Trip struct {
	ID            string     `json:"id"`
	ContactID     string     `json:"contact_id"`
	Destination   string     `json:"destination"`
	DepartureDate time.Time  `json:"departure_date"`
	ReturnDate    *time.Time `json:"return_date,omitempty"`
	Status        TripStatus `json:"status"`
	Price         float64    `json:"price"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
