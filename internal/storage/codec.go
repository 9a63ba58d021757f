package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/model"
	"github.com/CMMAi/GraphLSTM-nonlinear-dynamic-analysis/internal/nn"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var (
	ErrVersionMismatch  = errors.New("record version mismatch")
	ErrChecksumMismatch = errors.New("model state checksum mismatch")
)

// CurrentVersion is the version stamp written on new records.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

// StateChecksum hashes parameter names, shapes and raw float bits in name
// order, so it does not depend on map iteration.
func StateChecksum(state map[string]nn.ParamData) uint64 {
	names := make([]string, 0, len(state))
	for name := range state {
		names = append(names, name)
	}
	sort.Strings(names)

	h := xxhash.New()
	var buf [8]byte
	for _, name := range names {
		p := state[name]
		_, _ = h.WriteString(name)
		binary.LittleEndian.PutUint64(buf[:], uint64(p.Rows)<<32|uint64(uint32(p.Cols)))
		_, _ = h.Write(buf[:])
		for _, v := range p.Data {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			_, _ = h.Write(buf[:])
		}
	}
	return h.Sum64()
}

// Seal stamps the current version and the checksum of the record's state.
func Seal(record model.ModelRecord) model.ModelRecord {
	record.VersionedRecord = CurrentVersion()
	record.Checksum = StateChecksum(record.State)
	return record
}

func EncodeModel(record model.ModelRecord) ([]byte, error) {
	return json.Marshal(record)
}

func DecodeModel(data []byte) (model.ModelRecord, error) {
	var record model.ModelRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.ModelRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.ModelRecord{}, err
	}
	if got := StateChecksum(record.State); got != record.Checksum {
		return model.ModelRecord{}, fmt.Errorf("%w: stored %x, computed %x", ErrChecksumMismatch, record.Checksum, got)
	}
	return record, nil
}

func EncodeNormDict(nd model.NormDict) ([]byte, error) {
	return json.Marshal(nd)
}

func DecodeNormDict(data []byte) (model.NormDict, error) {
	var nd model.NormDict
	if err := json.Unmarshal(data, &nd); err != nil {
		return model.NormDict{}, err
	}
	if err := checkVersion(nd.VersionedRecord); err != nil {
		return model.NormDict{}, err
	}
	return nd, nil
}

func EncodeEvaluation(record model.EvaluationRecord) ([]byte, error) {
	return json.Marshal(record)
}

func DecodeEvaluation(data []byte) (model.EvaluationRecord, error) {
	var record model.EvaluationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.EvaluationRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.EvaluationRecord{}, err
	}
	return record, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
