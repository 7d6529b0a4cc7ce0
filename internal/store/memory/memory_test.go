package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"capitania.club/internal/backend"
	"capitania.club/internal/member"
	"capitania.club/internal/stream"
)

func TestCreateAndLookup(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	p, err := s.CreateMember(ctx, member.NewMember{
		Email:        "ana@club.com",
		PasswordHash: "h",
		Metadata:     member.Metadata{FullName: "Ana", CPF: "123.456.789-01"},
	})
	if err != nil {
		t.Fatalf("CreateMember: %v", err)
	}
	if p.ID == "" || p.Role != member.RoleSocio || p.CPF != "12345678901" {
		t.Fatalf("unexpected profile: %+v", p)
	}

	if _, err := s.FindByCPF(ctx, "12345678901"); err != nil {
		t.Fatalf("FindByCPF: %v", err)
	}
	if _, err := s.FindByEmail(ctx, " ANA@club.com "); err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if _, err := s.FindByCPF(ctx, "00000000000"); !errors.Is(err, member.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, err = s.CreateMember(ctx, member.NewMember{Email: "ana@club.com", PasswordHash: "h"})
	if !errors.Is(err, member.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUpdateDeletePublishChanges(t *testing.T) {
	hub := stream.NewHub[backend.Change](8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := hub.Subscribe(ctx)

	s := New(hub)
	p, err := s.CreateMember(ctx, member.NewMember{ID: "u1", Email: "a@club.com", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("CreateMember: %v", err)
	}
	active := true
	if _, err := s.UpdateProfile(ctx, p.ID, member.Update{IsActive: &active}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if err := s.DeleteProfile(ctx, p.ID); err != nil {
		t.Fatalf("DeleteProfile: %v", err)
	}
	if err := s.DeleteProfile(ctx, p.ID); !errors.Is(err, member.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for _, want := range []backend.ChangeKind{backend.ChangeInsert, backend.ChangeUpdate, backend.ChangeDelete} {
		c := <-changes
		if c.Kind != want || c.RecordID != "u1" || c.Table != backend.TableProfiles {
			t.Fatalf("unexpected change %+v, want kind %s", c, want)
		}
	}
}

func TestListOrderedByName(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	for i, name := range []string{"Carla", "Ana", "Bruno"} {
		email := string(rune('a'+i)) + "@club.com"
		if _, err := s.CreateMember(ctx, member.NewMember{Email: email, Metadata: member.Metadata{FullName: name}}); err != nil {
			t.Fatalf("CreateMember: %v", err)
		}
	}
	list, _ := s.ListProfiles(ctx)
	if len(list) != 3 || list[0].FullName != "Ana" || list[2].FullName != "Carla" {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func TestConcurrentCheckins(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	p, _ := s.CreateMember(ctx, member.NewMember{Email: "a@club.com"})

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CreateCheckin(ctx, p.ID); err != nil {
				t.Errorf("CreateCheckin: %v", err)
			}
		}()
	}
	wg.Wait()

	list, _ := s.ListCheckins(ctx, p.ID, 0)
	if len(list) != 20 {
		t.Fatalf("expected default limit of 20, got %d", len(list))
	}
	if _, err := s.CreateCheckin(ctx, "ghost"); !errors.Is(err, member.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
