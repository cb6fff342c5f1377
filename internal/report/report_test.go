package report

import (
	"context"
	"errors"
	"testing"

	"campuschain/internal/core"
)

type stubReader struct {
	view core.AggregateView
	err  error
}

func (s stubReader) ReadAggregate(ctx context.Context, callerID, spenderID string, month core.Month) (core.AggregateView, error) {
	return s.view, s.err
}

type captureWriter struct {
	rows [][]string
	err  error
}

func (w *captureWriter) AppendRows(ctx context.Context, rows [][]string) error {
	if w.err != nil {
		return w.err
	}
	w.rows = append(w.rows, rows...)
	return nil
}

var sampleView = core.AggregateView{
	Month: "2026-03",
	Breakdown: map[core.Category]int64{
		core.CategoryFood:       40,
		core.CategoryEvents:     0,
		core.CategoryStationery: 15,
	},
	TotalFunded: 100,
	TotalSpent:  55,
	Balance:     45,
}

func TestRows(t *testing.T) {
	rows := Rows("s1", sampleView, "USD")

	want := [][]string{
		{"2026-03", "s1", "food", "$40.00"},
		{"2026-03", "s1", "events", "$0.00"},
		{"2026-03", "s1", "stationery", "$15.00"},
		{"2026-03", "s1", "total spent", "$55.00"},
		{"2026-03", "s1", "total funded", "$100.00"},
		{"2026-03", "s1", "balance", "$45.00"},
	}
	if len(rows) != len(want) {
		t.Fatalf("got %d rows, want %d: %v", len(rows), len(want), rows)
	}
	for i := range want {
		for j := range want[i] {
			if rows[i][j] != want[i][j] {
				t.Errorf("row %d col %d = %q, want %q", i, j, rows[i][j], want[i][j])
			}
		}
	}
}

func TestRows_Uncategorized(t *testing.T) {
	view := sampleView
	view.Breakdown = map[core.Category]int64{core.CategoryUncategorized: 5}

	rows := Rows("s1", view, "USD")
	found := false
	for _, r := range rows {
		if r[2] == "uncategorized" {
			found = true
		}
	}
	if !found {
		t.Errorf("uncategorized row missing: %v", rows)
	}
}

func TestExporter_Export(t *testing.T) {
	month := core.Month{Year: 2026, Month: 3}

	tests := []struct {
		name     string
		readErr  error
		writeErr error
		wantErr  error
		wantRows int
	}{
		{"exported", nil, nil, nil, 6},
		{"forbidden writes nothing", core.ErrForbidden, nil, core.ErrForbidden, 0},
		{"writer failure", nil, errors.New("quota"), nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &captureWriter{err: tt.writeErr}
			e := NewExporter(stubReader{view: sampleView, err: tt.readErr}, w, "")

			n, err := e.Export(context.Background(), "g1", "s1", month)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
			case tt.writeErr != nil:
				if err == nil {
					t.Error("expected writer error")
				}
			case err != nil:
				t.Fatalf("unexpected error: %v", err)
			}
			if n != tt.wantRows || len(w.rows) != tt.wantRows {
				t.Errorf("rows = %d (written %d), want %d", n, len(w.rows), tt.wantRows)
			}
		})
	}
}
