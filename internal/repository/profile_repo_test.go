package repository

import (
	"context"
	"testing"

	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
	"github.com/peterpiperpicked4/vaulthealth/internal/testutil"
)

func sampleProfile(name, vendor string) *schema.ImporterProfile {
	return &schema.ImporterProfile{
		Name:     name,
		Version:  1,
		Vendor:   vendor,
		FileType: "csv",
		Mappings: schema.TableMappings{{
			SourcePath: "[*]",
			Target:     "daily_metrics",
			Fields: []schema.FieldMapping{
				{Target: "date", Source: "date", Required: true},
				{Target: "metric_type", Source: "'readiness_score'"},
				{Target: "value", Source: "score", Required: true},
			},
		}},
	}
}

func TestProfileRepoSaveAndLookup(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	p := sampleProfile("my-ring", "ring_csv")
	if err := repo.Save(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	if p.ID == "" {
		t.Fatal("save must assign an id")
	}

	got, err := repo.GetByVendor(ctx, "ring_csv")
	if err != nil || got == nil {
		t.Fatalf("getByVendor=(%v,%v), want hit", got, err)
	}
	if len(got.Mappings) != 1 || got.Mappings[0].Target != "daily_metrics" {
		t.Fatalf("mappings=%+v, want round-tripped mapping", got.Mappings)
	}

	// 同名再存是更新而非新建
	p2 := sampleProfile("my-ring", "ring_csv")
	p2.Version = 2
	if err := repo.Save(ctx, p2); err != nil {
		t.Fatalf("save again: %v", err)
	}
	if p2.ID != p.ID {
		t.Fatalf("id=%s, want reuse of %s", p2.ID, p.ID)
	}
	list, _ := repo.List(ctx)
	if len(list) != 1 || list[0].Version != 2 {
		t.Fatalf("list=%+v, want single updated profile", list)
	}
}

func TestProfileRepoDelete(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewProfileRepository(db)
	ctx := context.Background()

	if err := repo.Save(ctx, sampleProfile("p1", "v1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.Delete(ctx, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, "p1"); err == nil {
		t.Fatal("want error deleting missing profile")
	}
	got, err := repo.GetByName(ctx, "p1")
	if err != nil || got != nil {
		t.Fatalf("getByName=(%v,%v), want (nil,nil)", got, err)
	}
}
