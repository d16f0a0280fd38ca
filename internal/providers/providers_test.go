package providers

import (
	"errors"
	"strings"
	"testing"

	"github.com/xingyang1991/nightfall/internal/toolbus"
	"github.com/xingyang1991/nightfall/spec"
)

func TestPlacesSearch(t *testing.T) {
	p := NewPlaces(nil)
	tests := []struct {
		name    string
		args    spec.PlacesSearchArgs
		wantIDs []string
		wantErr error
	}{
		{
			name:    "query ranks by overlap",
			args:    spec.PlacesSearchArgs{Query: "quiet hotel lobby", Limit: 2},
			wantIDs: []string{"pl_hotel_lobby", "pl_24h_cafe"},
		},
		{
			name:    "offset pages",
			args:    spec.PlacesSearchArgs{Query: "quiet hotel lobby", Limit: 1, Offset: 1},
			wantIDs: []string{"pl_24h_cafe"},
		},
		{
			name:    "no match",
			args:    spec.PlacesSearchArgs{Query: "submarine"},
			wantIDs: nil,
		},
		{
			name:    "negative limit",
			args:    spec.PlacesSearchArgs{Limit: -1},
			wantErr: spec.ErrInvalidArgument,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := p.Search(t.Context(), tc.args)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr != nil {
				return
			}
			var got []string
			for _, pl := range res.Places {
				got = append(got, pl.ID)
			}
			if strings.Join(got, ",") != strings.Join(tc.wantIDs, ",") {
				t.Fatalf("ids = %v, want %v", got, tc.wantIDs)
			}
		})
	}
}

func TestPlacesOpenLateFilter(t *testing.T) {
	res, err := NewPlaces(nil).Search(t.Context(), spec.PlacesSearchArgs{OpenLate: true, Limit: 50})
	if err != nil {
		t.Fatal(err)
	}
	for _, pl := range res.Places {
		if pl.ID == "pl_unknown_pop" {
			t.Fatalf("place without hours passed the late filter")
		}
	}
}

func TestMapsLinkDeterministic(t *testing.T) {
	m := NewMaps()
	a, err := m.Link(t.Context(), spec.MapsLinkArgs{PlaceID: "p1", Query: "tea"})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := m.Link(t.Context(), spec.MapsLinkArgs{PlaceID: "p1", Query: "tea"})
	if a.URL != b.URL || !strings.Contains(a.URL, "place=p1") {
		t.Fatalf("URL = %q / %q", a.URL, b.URL)
	}
	if _, err := m.Link(t.Context(), spec.MapsLinkArgs{}); !errors.Is(err, spec.ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
}

func TestRegisterAllTools(t *testing.T) {
	h, err := toolbus.NewHub()
	if err != nil {
		t.Fatal(err)
	}
	if err := Defaults().Register(h); err != nil {
		t.Fatal(err)
	}
	if got := len(h.Tools()); got != len(spec.AllTools()) {
		t.Fatalf("tools = %d, want %d", got, len(spec.AllTools()))
	}

	bus := h.Scope(spec.AllTools(), nil)
	res, err := spec.CallTool[spec.PocketAppendArgs, spec.AppendResult](t.Context(), bus, spec.ToolPocketAppend,
		spec.PocketAppendArgs{SessionID: "s", Title: "Tea"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || res.ID == "" {
		t.Fatalf("result = %+v", res)
	}
}
