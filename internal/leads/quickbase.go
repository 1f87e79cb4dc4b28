package leads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"appointment-confirmer/internal/config"
)

// Store is the read-mostly lead source consumed by campaign control.
//
// Rules:
// - No record-store API calls outside this adapter.
// - Callers receive flat Contact slices; field-id mapping stays here.
type Store interface {
	ListByDate(ctx context.Context, date string, dispositions []string) ([]Contact, error)
	ListDispositions(ctx context.Context) ([]Disposition, error)
	UpdateStatus(ctx context.Context, recordID, status string) error
}

// Quickbase field IDs for the leads table.
const (
	fieldRecordID  = 3
	fieldFullName  = 6
	fieldStatus    = 9
	fieldApptDate  = 11
	fieldProduct   = 15
	fieldAddress   = 94
	fieldStreet    = 95
	fieldCity      = 97
	fieldState     = 98
	fieldZip       = 99
	fieldAltPhone  = 108
	fieldPhone     = 109
	fieldApptTime  = 126
)

// Status table field IDs.
const (
	statusFieldID     = 3
	statusFieldName   = 6
	statusFieldDesc   = 7
	statusFieldType   = 8
	statusFieldActive = 11
)

// QuickbaseStore talks to the Quickbase records API.
type QuickbaseStore struct {
	realm       string
	userToken   string
	leadsTable  string
	statusTable string

	baseURL string
	http    *http.Client
}

var _ Store = (*QuickbaseStore)(nil)

// NewQuickbaseStore builds a store from configuration.
func NewQuickbaseStore(cfg config.QuickbaseConfig) *QuickbaseStore {
	return &QuickbaseStore{
		realm:       cfg.Realm,
		userToken:   cfg.UserToken,
		leadsTable:  cfg.LeadsTable,
		statusTable: cfg.StatusTable,
		baseURL:     "https://api.quickbase.com/v1",
		http:        &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL overrides the API endpoint; tests point it at a local server.
func (s *QuickbaseStore) WithBaseURL(u string) *QuickbaseStore {
	s.baseURL = strings.TrimRight(u, "/")
	return s
}

type qbFieldValue struct {
	Value any `json:"value"`
}

type qbQueryResponse struct {
	Data []map[string]qbFieldValue `json:"data"`
}

func (s *QuickbaseStore) request(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("leads: encode request: %w", err)
		}
		buf = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, buf)
	if err != nil {
		return err
	}
	req.Header.Set("QB-Realm-Hostname", s.realm)
	req.Header.Set("Authorization", "QB-USER-TOKEN "+s.userToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("leads: record store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("leads: record store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListByDate queries leads for one appointment date, optionally narrowed to a
// set of disposition labels, ordered by appointment time.
func (s *QuickbaseStore) ListByDate(ctx context.Context, date string, dispositions []string) ([]Contact, error) {
	if strings.TrimSpace(date) == "" {
		return nil, fmt.Errorf("leads: date is required")
	}

	where := fmt.Sprintf("{%d.EX.'%s'}", fieldApptDate, date)
	if len(dispositions) > 0 {
		clauses := make([]string, 0, len(dispositions))
		for _, d := range dispositions {
			d = strings.TrimSpace(d)
			if d == "" {
				continue
			}
			clauses = append(clauses, fmt.Sprintf("{%d.EX.'%s'}", fieldStatus, d))
		}
		if len(clauses) > 0 {
			where = fmt.Sprintf("(%s)AND(%s)", where, strings.Join(clauses, "OR"))
		}
	}

	var resp qbQueryResponse
	err := s.request(ctx, http.MethodPost, "/records/query", map[string]any{
		"from": s.leadsTable,
		"select": []int{
			fieldRecordID, fieldFullName, fieldStatus, fieldApptDate, fieldProduct,
			fieldAddress, fieldStreet, fieldCity, fieldState, fieldZip,
			fieldAltPhone, fieldPhone, fieldApptTime,
		},
		"where":  where,
		"sortBy": []map[string]any{{"fieldId": fieldApptTime, "order": "ASC"}},
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]Contact, 0, len(resp.Data))
	for _, row := range resp.Data {
		full := fieldString(row, fieldFullName)
		primary, first, last := SplitName(full)
		out = append(out, Contact{
			RecordID:        fieldString(row, fieldRecordID),
			FullName:        primary,
			FirstName:       first,
			LastName:        last,
			Phone:           fieldString(row, fieldPhone),
			AltPhone:        fieldString(row, fieldAltPhone),
			Status:          fieldString(row, fieldStatus),
			AppointmentDate: fieldString(row, fieldApptDate),
			AppointmentTime: fieldString(row, fieldApptTime),
			Product:         fieldString(row, fieldProduct),
			Address:         fieldString(row, fieldAddress),
			Street:          fieldString(row, fieldStreet),
			City:            fieldString(row, fieldCity),
			State:           fieldString(row, fieldState),
			Zip:             fieldString(row, fieldZip),
		})
	}
	// The API sorts, but normalize locally so "9:30" and "09:30" order alike.
	sort.SliceStable(out, func(i, j int) bool {
		return NormalizeTime(out[i].AppointmentTime) < NormalizeTime(out[j].AppointmentTime)
	})
	return out, nil
}

// ListDispositions returns the active status labels.
func (s *QuickbaseStore) ListDispositions(ctx context.Context) ([]Disposition, error) {
	var resp qbQueryResponse
	err := s.request(ctx, http.MethodPost, "/records/query", map[string]any{
		"from":   s.statusTable,
		"select": []int{statusFieldID, statusFieldName, statusFieldDesc, statusFieldType, statusFieldActive},
		"where":  fmt.Sprintf("{%d.EX.true}", statusFieldActive),
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]Disposition, 0, len(resp.Data))
	for _, row := range resp.Data {
		out = append(out, Disposition{
			ID:          fieldString(row, statusFieldID),
			Name:        fieldString(row, statusFieldName),
			Description: fieldString(row, statusFieldDesc),
			Type:        fieldString(row, statusFieldType),
			Active:      fieldBool(row, statusFieldActive),
		})
	}
	return out, nil
}

// UpdateStatus writes a new disposition onto a lead record.
func (s *QuickbaseStore) UpdateStatus(ctx context.Context, recordID, status string) error {
	id, err := strconv.Atoi(strings.TrimSpace(recordID))
	if err != nil {
		return fmt.Errorf("leads: record id must be numeric, got %q", recordID)
	}
	return s.request(ctx, http.MethodPost, "/records", map[string]any{
		"to": s.leadsTable,
		"data": []map[string]qbFieldValue{{
			strconv.Itoa(fieldRecordID): {Value: id},
			strconv.Itoa(fieldStatus):   {Value: status},
		}},
	}, nil)
}

func fieldString(row map[string]qbFieldValue, id int) string {
	v, ok := row[strconv.Itoa(id)]
	if !ok || v.Value == nil {
		return ""
	}
	switch t := v.Value.(type) {
	case string:
		return t
	case float64:
		// Record IDs come back as numbers.
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func fieldBool(row map[string]qbFieldValue, id int) bool {
	v, ok := row[strconv.Itoa(id)]
	if !ok {
		return false
	}
	b, _ := v.Value.(bool)
	return b
}
