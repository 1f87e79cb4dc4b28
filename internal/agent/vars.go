package agent

import (
	"strings"
	"time"
)

// DynamicVariables personalize the agent's opening script. Every key must
// be present even when the contact is unknown; the agent template renders
// the literal placeholder text otherwise.
type DynamicVariables map[string]string

// contactInfo is the subset of lead data the agent script consumes.
type ContactInfo struct {
	RecordID        string
	FirstName       string
	LastName        string
	Phone           string
	AppointmentDate string
	AppointmentTime string
	Product         string
}

// NewDynamicVariables builds the variable set for a contact, substituting
// neutral fallbacks for missing fields so the script never reads blanks.
func NewDynamicVariables(c ContactInfo, companyName string) DynamicVariables {
	v := DynamicVariables{
		"first_name":       "Customer",
		"last_name":        "",
		"phone_number":     c.Phone,
		"appointment_date": "your scheduled date",
		"appointment_time": "your scheduled time",
		"product":          "home improvement service",
		"company_name":     companyName,
		"record_id":        c.RecordID,
		"new_date":         "",
		"new_time":         "",
	}
	if c.FirstName != "" {
		v["first_name"] = c.FirstName
	}
	if c.LastName != "" {
		v["last_name"] = c.LastName
	}
	if d := FormatSpokenDate(c.AppointmentDate); d != "" {
		v["appointment_date"] = d
	}
	if t := FormatSpokenTime(c.AppointmentTime); t != "" {
		v["appointment_time"] = t
	}
	if c.Product != "" {
		v["product"] = c.Product
	}
	return v
}

// FormatSpokenDate rewrites an ISO date as a spoken-friendly long form,
// e.g. "2026-03-09" becomes "Monday, March 9, 2026". Unparseable input is
// returned unchanged so the agent still has something to read.
func FormatSpokenDate(date string) string {
	if date == "" {
		return ""
	}
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Format("Monday, January 2, 2006")
}

// FormatSpokenTime rewrites "HH:MM" or "HH:MM:SS" as a 12-hour clock,
// e.g. "14:30:00" becomes "2:30 PM".
func FormatSpokenTime(raw string) string {
	if raw == "" {
		return ""
	}
	s := raw
	if n := strings.Count(s, ":"); n == 1 {
		s += ":00"
	}
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		return raw
	}
	return t.Format("3:04 PM")
}

// InitMessage is the first client frame on a conversation socket. The
// agent holds its greeting until this arrives.
type InitMessage struct {
	Type             string           `json:"type"`
	DynamicVariables DynamicVariables `json:"dynamic_variables"`
}

func NewInitMessage(vars DynamicVariables) InitMessage {
	return InitMessage{
		Type:             "conversation_initiation_client_data",
		DynamicVariables: vars,
	}
}
