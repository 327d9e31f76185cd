package persona

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestPersona_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		p       Persona
		wantErr []string
	}{
		{name: "valid", p: Persona{Name: "Buddha", VoiceID: "v1"}},
		{name: "valid speed bounds", p: Persona{Name: "Buddha", VoiceID: "v1", Speed: 2}},
		{name: "empty name", p: Persona{VoiceID: "v1"}, wantErr: []string{"name must not be empty"}},
		{name: "missing voice", p: Persona{Name: "Buddha"}, wantErr: []string{"voice_id must not be empty"}},
		{
			name:    "everything wrong",
			p:       Persona{Name: " ", Speed: 3},
			wantErr: []string{"name must not be empty", "voice_id must not be empty", "speed must be in [0.5, 2]"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.p.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate() = %v, want ErrInvalid", err)
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not contain %q", err, want)
				}
			}
		})
	}
}

func TestPersona_Voice(t *testing.T) {
	t.Parallel()

	v := Persona{Name: "Epicurus", VoiceID: "v9"}.Voice()
	if v.ID != "v9" || v.Name != "Epicurus" || v.SpeedFactor != 1 {
		t.Fatalf("Voice() = %+v", v)
	}
}

func TestMemStore_CRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	a := Persona{Name: "Buddha", VoiceID: "v1", Metadata: map[string]string{"tradition": "buddhism"}}
	if err := s.Create(ctx, &a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == "" || a.CreatedAt.IsZero() {
		t.Fatalf("Create did not assign ID and timestamps: %+v", a)
	}
	b := Persona{Name: "Epicurus", VoiceID: "v2"}
	if err := s.Create(ctx, &b); err != nil {
		t.Fatalf("Create: %v", err)
	}
	dup := Persona{ID: a.ID, Name: "Other", VoiceID: "v3"}
	if err := s.Create(ctx, &dup); err == nil {
		t.Fatal("Create with duplicate ID should fail")
	}

	got, err := s.Get(ctx, a.ID)
	if err != nil || got == nil || got.Name != "Buddha" {
		t.Fatalf("Get() = %+v, %v", got, err)
	}
	// Returned values are copies.
	got.Metadata["tradition"] = "changed"
	again, _ := s.Get(ctx, a.ID)
	if again.Metadata["tradition"] != "buddhism" {
		t.Fatal("Get must return a copy")
	}

	missing, err := s.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("Get(missing) = %+v, %v; want nil, nil", missing, err)
	}

	a.Instruction = "Speak softly."
	if err := s.Update(ctx, &a); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update(ctx, &Persona{ID: "nope", Name: "X", VoiceID: "v"}); err == nil {
		t.Fatal("Update of missing persona should fail")
	}

	list, _ := s.List(ctx)
	if len(list) != 2 || list[0].Name != "Buddha" || list[1].Name != "Epicurus" {
		t.Fatalf("List() = %+v, want creation order", list)
	}
	if list[0].Instruction != "Speak softly." {
		t.Fatalf("Update not applied: %+v", list[0])
	}

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	list, _ = s.List(ctx)
	if len(list) != 1 || list[0].ID != b.ID {
		t.Fatalf("List() after delete = %+v", list)
	}
}

func TestMemStore_Upsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var s MemStore

	p := Persona{ID: "fixed", Name: "Krishnamurti", VoiceID: "v1"}
	if err := s.Upsert(ctx, &p); err != nil {
		t.Fatalf("Upsert (insert): %v", err)
	}
	created := p.CreatedAt
	p.Name = "J. Krishnamurti"
	if err := s.Upsert(ctx, &p); err != nil {
		t.Fatalf("Upsert (update): %v", err)
	}
	if !p.CreatedAt.Equal(created) {
		t.Fatal("Upsert must keep CreatedAt")
	}
	list, _ := s.List(ctx)
	if len(list) != 1 || list[0].Name != "J. Krishnamurti" {
		t.Fatalf("List() = %+v", list)
	}
	if err := s.Upsert(ctx, &Persona{Name: ""}); err == nil {
		t.Fatal("Upsert must validate")
	}
}
