package database

import (
	"strings"
	"testing"
)

func TestMigrations_Embedded(t *testing.T) {
	list, err := Migrations().FindMigrations()
	if err != nil {
		t.Fatalf("find migrations: %v", err)
	}
	if len(list) == 0 {
		t.Fatal("no migrations embedded")
	}
	if list[0].Id != "0001_init.sql" {
		t.Fatalf("unexpected first migration %q", list[0].Id)
	}
	up := strings.Join(list[0].Up, "\n")
	for _, table := range []string{"users", "credit_balances", "credit_transactions", "generation_jobs", "reward_proofs"} {
		if !strings.Contains(up, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("migration does not create %s", table)
		}
	}
	if len(list[0].Down) == 0 {
		t.Error("missing down migration")
	}
}
