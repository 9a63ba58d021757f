package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

// MemoryStore keeps models as encoded payloads so callers never share
// parameter slices with the store, and so the checksum is verified on read
// the same way the SQLite store does.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	models      map[string][]byte
	normDicts   map[string]model.NormDict
	evaluations map[string]model.EvaluationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.models = make(map[string][]byte)
	s.normDicts = make(map[string]model.NormDict)
	s.evaluations = make(map[string]model.EvaluationRecord)
	return nil
}

func (s *MemoryStore) SaveModel(_ context.Context, record model.ModelRecord) error {
	payload, err := EncodeModel(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}
	s.models[record.ID] = payload
	return nil
}

func (s *MemoryStore) GetModel(_ context.Context, id string) (model.ModelRecord, bool, error) {
	s.mu.RLock()
	payload, ok := s.models[id]
	s.mu.RUnlock()

	if !ok {
		return model.ModelRecord{}, false, nil
	}
	record, err := DecodeModel(payload)
	if err != nil {
		return model.ModelRecord{}, false, err
	}
	return record, true, nil
}

func (s *MemoryStore) ListModels(_ context.Context) ([]model.ModelRecord, error) {
	s.mu.RLock()
	payloads := make([][]byte, 0, len(s.models))
	for _, payload := range s.models {
		payloads = append(payloads, payload)
	}
	s.mu.RUnlock()

	out := make([]model.ModelRecord, 0, len(payloads))
	for _, payload := range payloads {
		record, err := DecodeModel(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) SaveNormDict(_ context.Context, nd model.NormDict) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	copied := nd
	copied.Ranges = make(map[string]model.Range, len(nd.Ranges))
	for k, v := range nd.Ranges {
		copied.Ranges[k] = v
	}
	s.normDicts[nd.ID] = copied
	return nil
}

func (s *MemoryStore) GetNormDict(_ context.Context, id string) (model.NormDict, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nd, ok := s.normDicts[id]
	if !ok {
		return model.NormDict{}, false, nil
	}
	copied := nd
	copied.Ranges = make(map[string]model.Range, len(nd.Ranges))
	for k, v := range nd.Ranges {
		copied.Ranges[k] = v
	}
	return copied, true, nil
}

func (s *MemoryStore) SaveEvaluation(_ context.Context, record model.EvaluationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	record.Groups = append([]model.GroupScore(nil), record.Groups...)
	s.evaluations[record.RunID] = record
	return nil
}

func (s *MemoryStore) GetEvaluation(_ context.Context, runID string) (model.EvaluationRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.evaluations[runID]
	if !ok {
		return model.EvaluationRecord{}, false, nil
	}
	record.Groups = append([]model.GroupScore(nil), record.Groups...)
	return record, true, nil
}

func (s *MemoryStore) ListEvaluations(_ context.Context, modelID string) ([]model.EvaluationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.EvaluationRecord, 0, len(s.evaluations))
	for _, record := range s.evaluations {
		if modelID != "" && record.ModelID != modelID {
			continue
		}
		record.Groups = append([]model.GroupScore(nil), record.Groups...)
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return out, nil
}
