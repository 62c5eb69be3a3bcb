package tle

import (
	"testing"
	"time"
)

func TestStoreSetGet(t *testing.T) {
	s := NewStore()

	if _, ok := s.Get(25544); ok {
		t.Fatal("expected miss on empty store")
	}
	if s.AgeSeconds() != -1 {
		t.Errorf("AgeSeconds on empty store = %v, want -1", s.AgeSeconds())
	}

	el := Elements{NORADID: 25544, Name: "ISS", Epoch: time.Now()}
	s.Set(el)

	got, ok := s.Get(25544)
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if got.Name != "ISS" {
		t.Errorf("name = %q, want ISS", got.Name)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	if s.AgeSeconds() < 0 {
		t.Errorf("AgeSeconds = %v, want >= 0", s.AgeSeconds())
	}
}

func TestStoreRejectsOlderEpoch(t *testing.T) {
	s := NewStore()
	newer := Elements{NORADID: 25544, Name: "newer", Epoch: time.Now()}
	older := Elements{NORADID: 25544, Name: "older", Epoch: time.Now().Add(-24 * time.Hour)}

	s.Set(newer)
	s.Set(older)

	got, _ := s.Get(25544)
	if got.Name != "newer" {
		t.Errorf("older epoch overwrote newer: got %q", got.Name)
	}
}

func TestStoreSetAllAndRemove(t *testing.T) {
	s := NewStore()
	s.SetAll([]Elements{
		{NORADID: 25544, Epoch: time.Now()},
		{NORADID: 44713, Epoch: time.Now()},
	})
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}

	all := s.All()
	if all[0].NORADID != 25544 || all[1].NORADID != 44713 {
		t.Errorf("All not ordered by NORAD ID: %v, %v", all[0].NORADID, all[1].NORADID)
	}

	s.Remove(25544)
	if _, ok := s.Get(25544); ok {
		t.Error("expected miss after Remove")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}
