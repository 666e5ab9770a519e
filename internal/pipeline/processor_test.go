package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"duplike-go/internal/model"
	"duplike-go/pkg/errs"
	"duplike-go/pkg/tasks"
)

type stubReports struct {
	err  error
	rows []model.Row
}

func (s *stubReports) AddReport(ctx context.Context, tenantID string, row model.Row) (int, error) {
	s.rows = append(s.rows, row)
	return len(s.rows) - 1, s.err
}

func (s *stubReports) AddReportAsync(ctx context.Context, tenantID string, row model.Row) (string, error) {
	return "", errors.New("not used")
}

func TestProcessor_Process(t *testing.T) {
	task := tasks.IngestTask{TaskID: "t1", TenantID: "acme", Row: map[string]interface{}{"Summary": "x"}}

	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"success", nil, false},
		{"invalid row is dropped", errs.Wrap(errs.ErrValidation, "bad"), false},
		{"missing tenant is dropped", errs.Wrap(errs.ErrTenantNotFound, "acme"), false},
		{"encoding failure is dropped", errs.ErrEncoding, false},
		{"rebuilding is retried", errs.Wrap(errs.ErrNotReady, "acme"), true},
		{"store closed is retried", errs.ErrStoreClosed, true},
		{"unknown error is retried", errors.New("disk full"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubReports{err: tt.err}
			err := NewProcessor(stub).Process(context.Background(), task)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, stub.rows, 1)
			assert.Equal(t, "x", stub.rows[0]["Summary"])
		})
	}
}
