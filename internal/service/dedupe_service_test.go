package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/peterpiperpicked4/vaulthealth/internal/repository"
	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
	"github.com/peterpiperpicked4/vaulthealth/internal/testutil"
)

func fp(v float64) *float64 { return &v }

func sparseSession(date string) schema.SleepSession {
	return schema.SleepSession{
		ID:              uuid.NewString(),
		UserID:          "u1",
		Date:            date,
		DurationSeconds: 25200,
		VendorData:      schema.JSONMap{"source": "csv"},
	}
}

func richSession(date string) schema.SleepSession {
	return schema.SleepSession{
		ID:              uuid.NewString(),
		UserID:          "u1",
		Date:            date,
		StartedAt:       1709334000000,
		EndedAt:         1709359200000,
		DurationSeconds: 25200,
		DeepSeconds:     5400,
		RemSeconds:      6300,
		LightSeconds:    13500,
		AwakeSeconds:    600,
		AvgHeartRate:    fp(55),
		MinHeartRate:    fp(48),
		AvgHrv:          fp(50),
		Efficiency:      fp(95),
		VendorData:      schema.JSONMap{"source": "mat"},
	}
}

func TestCompletenessScoreOrdering(t *testing.T) {
	sparse := sparseSession("2024-03-01")
	rich := richSession("2024-03-01")

	if CompletenessScore(&sparse) >= CompletenessScore(&rich) {
		t.Fatalf("sparse=%d rich=%d, want rich strictly higher",
			CompletenessScore(&sparse), CompletenessScore(&rich))
	}
	empty := schema.SleepSession{}
	if CompletenessScore(&empty) != 0 {
		t.Fatalf("empty score=%d, want 0", CompletenessScore(&empty))
	}
}

// 合并单调性：丰富方已有的字段绝不会被清掉
func TestMergeNeverClearsFields(t *testing.T) {
	rich := richSession("2024-03-01")
	sparse := sparseSession("2024-03-01")
	sparse.AvgRespiratoryRate = fp(14.5) // 稀疏方独有字段

	merged := mergeSleepPair(rich, sparse)
	if merged.DeepSeconds != 5400 || merged.AvgHeartRate == nil || *merged.AvgHeartRate != 55 {
		t.Fatalf("merged=%+v, rich fields must survive", merged)
	}
	// 缺失字段从稀疏方补齐
	if merged.AvgRespiratoryRate == nil || *merged.AvgRespiratoryRate != 14.5 {
		t.Fatalf("respiratory=%v, want filled from supplement", merged.AvgRespiratoryRate)
	}
	// 来源并入 merged_sources
	sources := schema.GetStringSlice(merged.VendorData, "merged_sources")
	if len(sources) != 2 {
		t.Fatalf("merged_sources=%v, want both mat and csv", sources)
	}
}

func TestMergeArgOrderIrrelevant(t *testing.T) {
	rich := richSession("2024-03-01")
	sparse := sparseSession("2024-03-01")

	a := mergeSleepPair(rich, sparse)
	b := mergeSleepPair(sparse, rich)
	if a.ID != rich.ID || b.ID != rich.ID {
		t.Fatalf("base ids=%s/%s, want richer session %s as base", a.ID, b.ID, rich.ID)
	}
	if a.DeepSeconds != b.DeepSeconds || a.DurationSeconds != b.DurationSeconds {
		t.Fatal("merge must be order-insensitive")
	}
}

// 场景：先导入稀疏会话，再导入同一天更丰富的会话 → 合并且继承既有 id
func TestDedupeRicherMergesOntoExisting(t *testing.T) {
	db := testutil.OpenTestDB(t)
	sleeps := repository.NewSleepRepository(db)
	svc := NewDedupeService(sleeps)
	ctx := context.Background()

	sparse := sparseSession("2024-03-01")
	first, err := svc.Dedupe(ctx, "u1", []schema.SleepSession{sparse})
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if first.Created != 1 || len(first.Sessions) != 1 {
		t.Fatalf("first=%+v, want one created", first)
	}
	if err := sleeps.Save(ctx, &first.Sessions[0]); err != nil {
		t.Fatalf("save: %v", err)
	}

	rich := richSession("2024-03-01")
	second, err := svc.Dedupe(ctx, "u1", []schema.SleepSession{rich})
	if err != nil {
		t.Fatalf("dedupe richer: %v", err)
	}
	if second.Merged != 1 || second.Created != 0 || second.Skipped != 0 {
		t.Fatalf("second=%+v, want mergedCount=1", second)
	}
	merged := second.Sessions[0]
	if merged.ID != sparse.ID {
		t.Fatalf("id=%s, want existing id %s preserved", merged.ID, sparse.ID)
	}
	if merged.DeepSeconds != 5400 || merged.DurationSeconds != 25200 {
		t.Fatalf("merged=%+v, want richer fields with duration intact", merged)
	}
}

// 既有记录更完整时，后来的稀疏导入被丢弃
func TestDedupeSparserIncomingSkipped(t *testing.T) {
	db := testutil.OpenTestDB(t)
	sleeps := repository.NewSleepRepository(db)
	svc := NewDedupeService(sleeps)
	ctx := context.Background()

	rich := richSession("2024-03-01")
	if err := sleeps.Save(ctx, &rich); err != nil {
		t.Fatalf("save: %v", err)
	}

	result, err := svc.Dedupe(ctx, "u1", []schema.SleepSession{sparseSession("2024-03-01")})
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if result.Skipped != 1 || len(result.Sessions) != 0 {
		t.Fatalf("result=%+v, want skipped=1 with nothing to write", result)
	}

	stored, _ := sleeps.GetByUserAndDate(ctx, "u1", "2024-03-01")
	if stored.DeepSeconds != 5400 {
		t.Fatal("existing richer record must stay untouched")
	}
}

// 同一天存在多条历史记录时，最完整的一条代表既有状态：
// 介于两者之间的新会话要与富记录比较（丢弃），而不是碰巧撞上稀疏的那条
func TestDedupeMostCompleteRepresentsExisting(t *testing.T) {
	db := testutil.OpenTestDB(t)
	sleeps := repository.NewSleepRepository(db)
	svc := NewDedupeService(sleeps)
	ctx := context.Background()

	sparse := sparseSession("2024-03-01")
	rich := richSession("2024-03-01")
	if err := sleeps.Save(ctx, &sparse); err != nil {
		t.Fatalf("save sparse: %v", err)
	}
	if err := sleeps.Save(ctx, &rich); err != nil {
		t.Fatalf("save rich: %v", err)
	}

	middle := sparseSession("2024-03-01")
	middle.DeepSeconds = 5400
	middle.TimeInBedSeconds = 25800
	if CompletenessScore(&middle) <= CompletenessScore(&sparse) ||
		CompletenessScore(&middle) >= CompletenessScore(&rich) {
		t.Fatal("fixture must score between the two stored sessions")
	}

	result, err := svc.Dedupe(ctx, "u1", []schema.SleepSession{middle})
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if result.Skipped != 1 || len(result.Sessions) != 0 {
		t.Fatalf("result=%+v, want skipped against the richer stored session", result)
	}

	// 新会话超过富记录时，合并必须继承富记录的 id
	richer := richSession("2024-03-01")
	richer.AvgRespiratoryRate = fp(14)
	richer.AvgBedTempC = fp(33)
	result, err = svc.Dedupe(ctx, "u1", []schema.SleepSession{richer})
	if err != nil {
		t.Fatalf("dedupe richer: %v", err)
	}
	if result.Merged != 1 || len(result.Sessions) != 1 {
		t.Fatalf("result=%+v, want merged=1", result)
	}
	if result.Sessions[0].ID != rich.ID {
		t.Fatalf("id=%s, want most complete stored id %s", result.Sessions[0].ID, rich.ID)
	}
}

// 同一批内同日期的多条会话先折叠成一条
func TestDedupeCollapsesSameBatchDates(t *testing.T) {
	db := testutil.OpenTestDB(t)
	svc := NewDedupeService(repository.NewSleepRepository(db))

	a := sparseSession("2024-03-01")
	b := richSession("2024-03-01")
	c := sparseSession("2024-03-02")

	result, err := svc.Dedupe(context.Background(), "u1", []schema.SleepSession{a, b, c})
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if len(result.Sessions) != 2 || result.Created != 2 {
		t.Fatalf("result=%+v, want two dates", result)
	}
}
