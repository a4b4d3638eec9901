package httpserver

import (
	"net/http/httptest"
	"testing"
)

func TestParseOffsetParams(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantPage   int
		wantSize   int
		wantOffset int
		wantErr    bool
	}{
		{name: "defaults", query: "", wantPage: 1, wantSize: DefaultPageSize, wantOffset: 0},
		{name: "explicit page and size", query: "page=3&page_size=10", wantPage: 3, wantSize: 10, wantOffset: 20},
		{name: "page size capped", query: "page_size=1000", wantPage: 1, wantSize: MaxPageSize, wantOffset: 0},
		{name: "invalid page", query: "page=0", wantErr: true},
		{name: "invalid page_size", query: "page_size=-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/?"+tt.query, nil)
			got, err := ParseOffsetParams(r)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Page != tt.wantPage || got.PageSize != tt.wantSize || got.Offset != tt.wantOffset {
				t.Fatalf("got %+v, want page=%d size=%d offset=%d", got, tt.wantPage, tt.wantSize, tt.wantOffset)
			}
		})
	}
}

func TestNewOffsetPage(t *testing.T) {
	items := []int{1, 2, 3}
	page := NewOffsetPage(items, OffsetParams{Page: 2, PageSize: 3, Offset: 3}, 9)

	if page.TotalPages != 3 {
		t.Fatalf("expected 3 total pages, got %d", page.TotalPages)
	}
	if len(page.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(page.Items))
	}
}
