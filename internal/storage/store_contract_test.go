package storage

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/graphlstm"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/model"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/nn"
)

func testModelRecord(t *testing.T, id string, created time.Time) model.ModelRecord {
	t.Helper()
	cfg := graphlstm.Config{
		NodeDim: 3, EdgeDim: 2, GroundMotionDim: 2, OutputDim: 2,
		GNNNumLayers: 1, HeadNum: 1, LatentDim: 4,
		GraphLSTMHiddenDim: 3, GraphLSTMNumLayers: 1,
		NodeLSTMHiddenDim: 4, NodeLSTMNumLayers: 2, ResponseDecoderHidden: []int{3},
	}
	m, err := graphlstm.New(cfg, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	return Seal(model.ModelRecord{
		ID:         id,
		Name:       "frame-" + id,
		CreatedAt:  created,
		Config:     cfg,
		State:      nn.StateDict(m),
		NormDictID: "nd-1",
	})
}

// exerciseStore runs the behaviour every Store implementation shares.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	second := testModelRecord(t, "m2", base.Add(time.Minute))
	first := testModelRecord(t, "m1", base)
	for _, record := range []model.ModelRecord{second, first} {
		if err := store.SaveModel(ctx, record); err != nil {
			t.Fatalf("save model %s: %v", record.ID, err)
		}
	}

	loaded, ok, err := store.GetModel(ctx, "m1")
	if err != nil {
		t.Fatalf("get model: %v", err)
	}
	if !ok {
		t.Fatal("expected model m1")
	}
	if loaded.Checksum != first.Checksum || len(loaded.State) != len(first.State) {
		t.Fatalf("unexpected model loaded: checksum %x params %d", loaded.Checksum, len(loaded.State))
	}
	if loaded.Config.NodeLSTMHiddenDim != 4 || !loaded.CreatedAt.Equal(base) {
		t.Fatalf("unexpected model metadata: %+v", loaded.Config)
	}

	// mutating the loaded copy must not reach the stored one
	for name := range loaded.State {
		loaded.State[name].Data[0] += 100
		break
	}
	again, _, err := store.GetModel(ctx, "m1")
	if err != nil {
		t.Fatalf("get model again: %v", err)
	}
	if again.Checksum != StateChecksum(again.State) {
		t.Fatal("stored model state was modified through a returned record")
	}

	if _, ok, err := store.GetModel(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing model, got ok=%v err=%v", ok, err)
	}

	models, err := store.ListModels(ctx)
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(models) != 2 || models[0].ID != "m1" || models[1].ID != "m2" {
		t.Fatalf("unexpected model order: %d records", len(models))
	}

	nd := model.NormDict{
		VersionedRecord: CurrentVersion(),
		ID:              "nd-1",
		Ranges:          map[string]model.Range{"acc": {0, 9.8}, "disp": {0, 0.3}},
	}
	if err := store.SaveNormDict(ctx, nd); err != nil {
		t.Fatalf("save norm dict: %v", err)
	}
	gotND, ok, err := store.GetNormDict(ctx, "nd-1")
	if err != nil || !ok {
		t.Fatalf("get norm dict: ok=%v err=%v", ok, err)
	}
	if gotND.Ranges["acc"].Max() != 9.8 || len(gotND.Ranges) != 2 {
		t.Fatalf("unexpected norm dict: %+v", gotND)
	}

	evals := []model.EvaluationRecord{
		{VersionedRecord: CurrentVersion(), RunID: "r2", ModelID: "m1", Split: "test", CreatedAt: base.Add(2 * time.Minute), R2: 0.8},
		{VersionedRecord: CurrentVersion(), RunID: "r1", ModelID: "m1", Split: "valid", CreatedAt: base, R2: 0.7,
			Groups: []model.GroupScore{{Group: "acc", R2: 0.9, PeakR2: 0.85}}},
		{VersionedRecord: CurrentVersion(), RunID: "r3", ModelID: "m2", Split: "test", CreatedAt: base.Add(time.Minute)},
	}
	for _, e := range evals {
		if err := store.SaveEvaluation(ctx, e); err != nil {
			t.Fatalf("save evaluation %s: %v", e.RunID, err)
		}
	}
	gotEval, ok, err := store.GetEvaluation(ctx, "r1")
	if err != nil || !ok {
		t.Fatalf("get evaluation: ok=%v err=%v", ok, err)
	}
	if len(gotEval.Groups) != 1 || gotEval.Groups[0].Group != "acc" {
		t.Fatalf("unexpected evaluation: %+v", gotEval)
	}

	forM1, err := store.ListEvaluations(ctx, "m1")
	if err != nil {
		t.Fatalf("list evaluations: %v", err)
	}
	if len(forM1) != 2 || forM1[0].RunID != "r1" || forM1[1].RunID != "r2" {
		t.Fatalf("unexpected evaluations for m1: %+v", forM1)
	}
	all, err := store.ListEvaluations(ctx, "")
	if err != nil {
		t.Fatalf("list all evaluations: %v", err)
	}
	if len(all) != 3 || all[1].RunID != "r3" {
		t.Fatalf("unexpected evaluations: %+v", all)
	}
}

func TestStateChecksumIgnoresMapOrder(t *testing.T) {
	a := map[string]nn.ParamData{
		"w": {Rows: 1, Cols: 2, Data: []float64{1, 2}},
		"b": {Rows: 1, Cols: 1, Data: []float64{3}},
	}
	b := map[string]nn.ParamData{
		"b": {Rows: 1, Cols: 1, Data: []float64{3}},
		"w": {Rows: 1, Cols: 2, Data: []float64{1, 2}},
	}
	if StateChecksum(a) != StateChecksum(b) {
		t.Fatal("checksum depends on insertion order")
	}
	reshaped := map[string]nn.ParamData{
		"w": {Rows: 2, Cols: 1, Data: []float64{1, 2}},
		"b": {Rows: 1, Cols: 1, Data: []float64{3}},
	}
	if StateChecksum(a) == StateChecksum(reshaped) {
		t.Fatal("checksum ignores parameter shape")
	}
}

func TestDecodeModelRejectsTamperedState(t *testing.T) {
	record := testModelRecord(t, "m1", time.Unix(0, 0).UTC())
	payload, err := EncodeModel(record)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeModel(payload); err != nil {
		t.Fatalf("decode sealed record: %v", err)
	}

	record.Checksum++
	payload, err = EncodeModel(record)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeModel(payload); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	record := testModelRecord(t, "m1", time.Unix(0, 0).UTC())
	record.SchemaVersion = CurrentSchemaVersion + 1
	payload, err := EncodeModel(record)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeModel(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}

	nd, err := EncodeNormDict(model.NormDict{ID: "nd"})
	if err != nil {
		t.Fatalf("encode norm dict: %v", err)
	}
	if _, err := DecodeNormDict(nd); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}

	eval, err := EncodeEvaluation(model.EvaluationRecord{RunID: "r"})
	if err != nil {
		t.Fatalf("encode evaluation: %v", err)
	}
	if _, err := DecodeEvaluation(eval); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}
