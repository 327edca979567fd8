package main

import (
	"errors"
	"testing"
	"time"
)

func TestParseRange(t *testing.T) {
	rng, err := parseRange("2024-03-04", "2024-03-08")
	if err != nil {
		t.Fatal(err)
	}
	wantStart := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	if !rng.Start.Equal(wantStart) || !rng.End.Equal(wantEnd) {
		t.Errorf("parseRange = [%v, %v), want [%v, %v)", rng.Start, rng.End, wantStart, wantEnd)
	}

	if _, err := parseRange("", "2024-03-08"); !errors.Is(err, errMissingFrom) {
		t.Errorf("missing -from error = %v", err)
	}
	if _, err := parseRange("2024-03-08", "2024-03-04"); !errors.Is(err, errEmptyRange) {
		t.Errorf("reversed range error = %v", err)
	}
	if _, err := parseRange("03/04/2024", ""); err == nil {
		t.Error("bad date parsed without error")
	}
}
