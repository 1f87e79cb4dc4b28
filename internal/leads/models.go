package leads

import "strings"

// Contact is one appointment lead fetched for a campaign run.
//
// Contacts are immutable once fetched; the scheduler owns them until
// dequeued, after which a copy travels with the pending-call context.
type Contact struct {
	RecordID  string `json:"recordId"`
	FullName  string `json:"fullName"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`

	Phone    string `json:"phone"`
	AltPhone string `json:"altPhone"`

	// Status is the current disposition label.
	Status string `json:"status"`

	AppointmentDate string `json:"appointmentDate"`
	AppointmentTime string `json:"appointmentTime"`
	Product         string `json:"product"`

	Address string `json:"address,omitempty"`
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip,omitempty"`
}

// DialNumber returns the number to call, preferring the primary phone.
func (c Contact) DialNumber() string {
	if strings.TrimSpace(c.Phone) != "" {
		return c.Phone
	}
	return c.AltPhone
}

// Disposition is one status label usable as a campaign filter.
type Disposition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Active      bool   `json:"active"`
}

// SplitName extracts the primary contact's first/last name from a stored
// full-name field. Records list couples as "John Smith / Jane Smith" or
// "John & Jane Smith"; the first listed person is the one called.
func SplitName(full string) (primary, first, last string) {
	primary = full
	if i := strings.IndexAny(full, "/&"); i >= 0 {
		primary = full[:i]
	}
	primary = strings.TrimSpace(primary)

	parts := strings.Fields(primary)
	if len(parts) > 0 {
		first = parts[0]
	}
	if len(parts) > 1 {
		last = strings.Join(parts[1:], " ")
	}
	return primary, first, last
}

// NormalizeTime pads an appointment-time string to HH:MM:SS so that values
// stored as "9:30" and "09:30:00" compare consistently.
func NormalizeTime(t string) string {
	if strings.TrimSpace(t) == "" {
		return ""
	}
	parts := strings.Split(t, ":")
	h := parts[0]
	if len(h) < 2 {
		h = "0" + h
	}
	m := "00"
	if len(parts) > 1 && parts[1] != "" {
		m = parts[1]
		if len(m) < 2 {
			m = "0" + m
		}
	}
	return h + ":" + m + ":00"
}

// FilterByTimeWindow keeps contacts whose appointment time falls inside the
// inclusive [from, to] window. Empty bounds are open; contacts without an
// appointment time are excluded when any bound is set.
func FilterByTimeWindow(in []Contact, from, to string) []Contact {
	if from == "" && to == "" {
		return in
	}
	fromNorm := NormalizeTime(from)
	toNorm := NormalizeTime(to)

	out := make([]Contact, 0, len(in))
	for _, c := range in {
		if c.AppointmentTime == "" {
			continue
		}
		t := NormalizeTime(c.AppointmentTime)
		if fromNorm != "" && t < fromNorm {
			continue
		}
		if toNorm != "" && t > toNorm {
			continue
		}
		out = append(out, c)
	}
	return out
}
