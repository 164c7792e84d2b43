// Package store 管线结果存储
//
// Store 在运行期间只追加：每个（受试者, 窗口）单元在其所有模块完成后一次性发布
// 全部记录，键重复即拒绝整批。Finalize 之后得到只读的 PipelineResult。
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	pipeerrors "wisefido-actigraphy/internal/errors"
	"wisefido-actigraphy/internal/models"
)

// Meta 运行元数据
type Meta struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Cancelled bool      `json:"cancelled"`
	Error     string    `json:"error,omitempty"`
}

// Store 运行期间的结果累加器，并发安全
type Store struct {
	mu        sync.Mutex
	records   []models.MetricRecord
	keys      map[models.RecordKey]struct{}
	windows   map[string]models.Window
	finalized bool
}

// New 创建空存储
func New() *Store {
	return &Store{
		keys:    make(map[models.RecordKey]struct{}),
		windows: make(map[string]models.Window),
	}
}

// AddWindows 登记窗口目录
func (s *Store) AddWindows(windows ...models.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return pipeerrors.ErrResultFinalized
	}
	for _, w := range windows {
		s.windows[w.ID] = w
	}
	return nil
}

// Publish 原子地追加一批记录；任一键已存在（或批内重复）时整批拒绝
func (s *Store) Publish(records []models.MetricRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return pipeerrors.ErrResultFinalized
	}
	batch := make(map[models.RecordKey]struct{}, len(records))
	for _, r := range records {
		k := r.Key()
		if _, dup := s.keys[k]; dup {
			return fmt.Errorf("%w: %s %s %s", pipeerrors.ErrDuplicateRecord, k.SubjectID, k.WindowID, k.Metric)
		}
		if _, dup := batch[k]; dup {
			return fmt.Errorf("%w: %s %s %s", pipeerrors.ErrDuplicateRecord, k.SubjectID, k.WindowID, k.Metric)
		}
		batch[k] = struct{}{}
	}
	for k := range batch {
		s.keys[k] = struct{}{}
	}
	s.records = append(s.records, records...)
	return nil
}

// Len 已发布的记录数
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Finalize 冻结存储并返回不可变结果，只能调用一次
func (s *Store) Finalize(meta Meta) (*PipelineResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return nil, pipeerrors.ErrResultFinalized
	}
	s.finalized = true

	windows := make([]models.Window, 0, len(s.windows))
	for _, w := range s.windows {
		windows = append(windows, w)
	}
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].SubjectID != windows[j].SubjectID {
			return windows[i].SubjectID < windows[j].SubjectID
		}
		return windows[i].Index < windows[j].Index
	})
	order := make(map[string]int, len(windows))
	for i, w := range windows {
		order[w.ID] = i
	}

	records := make([]models.MetricRecord, len(s.records))
	copy(records, s.records)
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.SubjectID != b.SubjectID {
			return a.SubjectID < b.SubjectID
		}
		if oa, ob := order[a.WindowID], order[b.WindowID]; oa != ob {
			return oa < ob
		}
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		return a.Metric < b.Metric
	})

	index := make(map[models.RecordKey]int, len(records))
	for i, r := range records {
		index[r.Key()] = i
	}
	return &PipelineResult{
		Meta:    meta,
		records: records,
		index:   index,
		windows: windows,
	}, nil
}
