package armory_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jensholdgaard/guildsync/internal/provider"
	"github.com/jensholdgaard/guildsync/internal/provider/armory"
	"github.com/jensholdgaard/guildsync/internal/ratelimit"
)

func testEntry() provider.RosterEntry {
	return provider.RosterEntry{
		Identity: provider.Identity{Name: "Krabs", Realm: "silvermoon"},
	}
}

func newClient(srv *httptest.Server) *armory.Client {
	return armory.New(srv.URL, "eu", srv.Client(), ratelimit.New(nil), 5*time.Second)
}

func TestCharacterProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("name") != "Krabs" || q.Get("realm") != "silvermoon" || q.Get("region") != "eu" {
			t.Errorf("unexpected query: %v", q)
		}
		w.Write([]byte(`{
			"name": "Krabs",
			"class": "Shaman",
			"level": 80,
			"gear": {"item_level_equipped": 676},
			"mythic_plus": {"season_id": 14, "scores": {"all": 2410.5}},
			"raid_progression": {
				"liberation-of-undermine": {"summary": "8/8 N"},
				"manaforge-omega": {"summary": "3/8 H"}
			}
		}`))
	}))
	defer srv.Close()

	p, err := newClient(srv).CharacterProfile(context.Background(), testEntry())
	if err != nil {
		t.Fatalf("CharacterProfile() error = %v", err)
	}

	if p.Class == nil || *p.Class != "Shaman" {
		t.Errorf("class = %v, want Shaman", p.Class)
	}
	if p.EquipmentScore == nil || *p.EquipmentScore != 676 {
		t.Errorf("equipment score = %v, want 676", p.EquipmentScore)
	}
	if p.MythicScore == nil || *p.MythicScore != 2410.5 {
		t.Errorf("mythic score = %v, want 2410.5", p.MythicScore)
	}
	if p.MythicSeasonID == nil || *p.MythicSeasonID != 14 {
		t.Errorf("mythic season = %v, want 14", p.MythicSeasonID)
	}
	want := "liberation-of-undermine: 8/8 N, manaforge-omega: 3/8 H"
	if p.RaidProgress == nil || *p.RaidProgress != want {
		t.Errorf("raid progress = %v, want %q", p.RaidProgress, want)
	}
	// Fields the armory never supplies stay absent.
	if p.AchievementScore != nil || len(p.Brackets) != 0 || p.LastSeen != nil {
		t.Error("armory profile must not carry pvp/achievement/last-seen fields")
	}
}

func TestCharacterProfile_PartialResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"name": "Krabs", "class": "Shaman", "level": 80}`))
	}))
	defer srv.Close()

	p, err := newClient(srv).CharacterProfile(context.Background(), testEntry())
	if err != nil {
		t.Fatalf("CharacterProfile() error = %v", err)
	}
	if p.EquipmentScore != nil || p.MythicScore != nil || p.RaidProgress != nil {
		t.Errorf("absent fields must stay nil, got %+v", p)
	}
	if p.Class == nil || *p.Class != "Shaman" {
		t.Errorf("class = %v, want Shaman", p.Class)
	}
}

func TestCharacterProfile_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   provider.ErrorCategory
	}{
		{"character unknown to index", http.StatusNotFound, provider.ErrNotFound},
		{"throttled", http.StatusTooManyRequests, provider.ErrRateLimited},
		{"server error", http.StatusInternalServerError, provider.ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := newClient(srv).CharacterProfile(context.Background(), testEntry())
			if err == nil {
				t.Fatal("expected error")
			}
			var fe *provider.FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("error %v is not a FetchError", err)
			}
			if fe.Category != tt.want {
				t.Errorf("category = %q, want %q", fe.Category, tt.want)
			}
			if fe.Source != armory.SourceName {
				t.Errorf("source = %q, want armory", fe.Source)
			}
		})
	}
}

func TestCharacterProfile_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"gear": nope`))
	}))
	defer srv.Close()

	_, err := newClient(srv).CharacterProfile(context.Background(), testEntry())
	var fe *provider.FetchError
	if !errors.As(err, &fe) || fe.Category != provider.ErrParse {
		t.Errorf("error = %v, want parse-error FetchError", err)
	}
}

func TestCharacterProfile_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := armory.New(srv.URL, "eu", srv.Client(), ratelimit.New(nil), 50*time.Millisecond)
	_, err := c.CharacterProfile(context.Background(), testEntry())
	var fe *provider.FetchError
	if !errors.As(err, &fe) || fe.Category != provider.ErrTimeout {
		t.Errorf("error = %v, want timeout FetchError", err)
	}
}
