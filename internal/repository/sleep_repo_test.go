package repository

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
	"github.com/peterpiperpicked4/vaulthealth/internal/testutil"
)

func newSleepSession(userID, date string) *schema.SleepSession {
	return &schema.SleepSession{
		ID:              uuid.NewString(),
		UserID:          userID,
		Date:            date,
		DurationSeconds: 25200,
		DeepSeconds:     5400,
		RemSeconds:      6300,
		LightSeconds:    13500,
		Quality:         schema.DataQualityFlags{IsComplete: true},
		VendorData:      schema.JSONMap{"source": "test"},
	}
}

func TestSleepRepoSaveAndGet(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewSleepRepository(db)
	ctx := context.Background()

	s := newSleepSession("u1", "2024-03-01")
	if err := repo.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.GetByUserAndDate(ctx, "u1", "2024-03-01")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ID != s.ID || got.DurationSeconds != 25200 {
		t.Fatalf("got=%+v, want saved session", got)
	}
	if got.VendorData["source"] != "test" {
		t.Fatalf("vendorData=%v, want round-tripped map", got.VendorData)
	}

	// 未命中返回 (nil, nil)
	miss, err := repo.GetByUserAndDate(ctx, "u1", "2024-03-02")
	if err != nil || miss != nil {
		t.Fatalf("miss=(%v,%v), want (nil,nil)", miss, err)
	}
}

func TestSleepRepoSaveOverwritesByID(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewSleepRepository(db)
	ctx := context.Background()

	s := newSleepSession("u1", "2024-03-01")
	if err := repo.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.DurationSeconds = 26000
	if err := repo.Save(ctx, s); err != nil {
		t.Fatalf("save again: %v", err)
	}

	all, err := repo.ListByUser(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].DurationSeconds != 26000 {
		t.Fatalf("all=%+v, want single updated row", all)
	}
}

func TestSleepRepoManualExclusion(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewSleepRepository(db)
	ctx := context.Background()

	s := newSleepSession("u1", "2024-03-01")
	if err := repo.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := repo.SetManualExclusion(ctx, s.ID, true, "传感器故障"); err != nil {
		t.Fatalf("exclude: %v", err)
	}
	got, _ := repo.GetByID(ctx, s.ID)
	if !got.Quality.ManuallyExcluded || got.Quality.ExclusionReason != "传感器故障" {
		t.Fatalf("quality=%+v, want excluded with reason", got.Quality)
	}

	// 恢复时清空原因
	if err := repo.SetManualExclusion(ctx, s.ID, false, "ignored"); err != nil {
		t.Fatalf("include: %v", err)
	}
	got, _ = repo.GetByID(ctx, s.ID)
	if got.Quality.ManuallyExcluded || got.Quality.ExclusionReason != "" {
		t.Fatalf("quality=%+v, want cleared", got.Quality)
	}

	if err := repo.SetManualExclusion(ctx, "no-such-id", true, ""); err == nil {
		t.Fatal("want error for unknown id")
	}
}

func TestSleepRepoUpdateQualityFlags(t *testing.T) {
	db := testutil.OpenTestDB(t)
	repo := NewSleepRepository(db)
	ctx := context.Background()

	s := newSleepSession("u1", "2024-03-01")
	if err := repo.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	flags := s.Quality
	flags.HasOutliers = true
	flags.OutlierFields = schema.JSONArray{"avg_hrv"}
	if err := repo.UpdateQualityFlags(ctx, s.ID, flags); err != nil {
		t.Fatalf("update flags: %v", err)
	}

	got, _ := repo.GetByID(ctx, s.ID)
	if !got.Quality.HasOutliers || len(got.Quality.OutlierFields) != 1 {
		t.Fatalf("quality=%+v, want outlier flags persisted", got.Quality)
	}
	// 其余字段不受影响
	if got.DurationSeconds != 25200 {
		t.Fatalf("duration=%d, want untouched", got.DurationSeconds)
	}
}
