package postgres

import (
	"errors"
	"testing"

	"github.com/alanyoungcy/arbwatch/internal/domain"
)

func TestDSN(t *testing.T) {
	cases := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://x@y/z", Host: "ignored"},
			want: "postgres://x@y/z",
		},
		{
			name: "defaults",
			cfg:  ClientConfig{Host: "db", Database: "arbwatch", User: "arb", Password: "pw"},
			want: "postgres://arb:pw@db:5432/arbwatch?sslmode=disable",
		},
		{
			name: "explicit port and ssl",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "d", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@db:6543/d?sslmode=require",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DSN(tc.cfg); got != tc.want {
				t.Fatalf("DSN = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTableFor(t *testing.T) {
	if tbl, _ := tableFor(domain.GranularityMinute); tbl != "price_minutes" {
		t.Fatalf("minute table = %q", tbl)
	}
	if tbl, _ := tableFor(domain.GranularitySnapshot); tbl != "price_snapshots" {
		t.Fatalf("snapshot table = %q", tbl)
	}
	if _, err := tableFor("hour; DROP TABLE x"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("unknown granularity err = %v", err)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) < 2 {
		t.Fatalf("embedded migrations = %d", len(entries))
	}
}
