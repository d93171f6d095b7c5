package store

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestSearchCaptionsFindsMatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, "hiking", "")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	sunset, err := s.CreatePhoto(ctx, p.ID, "a1", time.Now(), "sunset over the ridge")
	if err != nil {
		t.Fatalf("create photo: %v", err)
	}
	if _, err := s.CreatePhoto(ctx, p.ID, "a2", time.Now(), "camp breakfast"); err != nil {
		t.Fatalf("create photo: %v", err)
	}

	hits, err := s.SearchCaptions(ctx, "sunset", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].PhotoID != sunset.ID || hits[0].AssetID != "a1" {
		t.Fatalf("wrong hit: %+v", hits[0])
	}
	if !strings.Contains(hits[0].Snippet, "[sunset]") {
		t.Fatalf("snippet not highlighted: %q", hits[0].Snippet)
	}
}

func TestSearchCaptionsDroppedAfterPhotoDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, _ := s.CreateProject(ctx, "cleanup", "")
	ph, err := s.CreatePhoto(ctx, p.ID, "a1", time.Now(), "lighthouse at dusk")
	if err != nil {
		t.Fatalf("create photo: %v", err)
	}
	if err := s.DeletePhoto(ctx, ph.ID); err != nil {
		t.Fatalf("delete photo: %v", err)
	}

	hits, err := s.SearchCaptions(ctx, "lighthouse", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("deleted photo still indexed: %+v", hits)
	}
}

func TestSearchCaptionsEmptyQuery(t *testing.T) {
	s := newTestStore(t)
	hits, err := s.SearchCaptions(context.Background(), "   ", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if hits != nil {
		t.Fatalf("expected no hits for blank query, got %+v", hits)
	}
}
