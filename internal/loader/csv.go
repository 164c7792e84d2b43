// Package loader 读写传感器流 CSV 文件
//
// 格式：首行为表头，第一列为时间（unix 秒或 RFC3339），其余每列一个通道。
//
//	time,x,y,z
//	1714953600.00,0.01,-0.02,0.99
package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	pipeerrors "wisefido-actigraphy/internal/errors"
	"wisefido-actigraphy/internal/models"
)

// LoadCSV 读取 CSV 文件；sampleRate 为 0 时按采样间隔中位数推断
func LoadCSV(path, name string, sampleRate float64) (*models.SensorStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	s, err := ReadCSV(f, name, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ReadCSV 从 r 读取传感器流
func ReadCSV(r io.Reader, name string, sampleRate float64) (*models.SensorStream, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty csv", pipeerrors.ErrInvalidStream)
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("%w: header needs a time column and at least one channel", pipeerrors.ErrInvalidStream)
	}
	switch strings.ToLower(strings.TrimSpace(header[0])) {
	case "time", "timestamp", "t":
	default:
		return nil, fmt.Errorf("%w: first column must be time, got %q", pipeerrors.ErrInvalidStream, header[0])
	}

	s := &models.SensorStream{
		Name:     name,
		Channels: make([]string, len(header)-1),
		Values:   make([][]float64, len(header)-1),
	}
	for i, h := range header[1:] {
		s.Channels[i] = strings.TrimSpace(h)
	}

	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		t, err := ParseTime(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		s.Time = append(s.Time, t)
		for c, field := range rec[1:] {
			v, err := parseValue(field)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, s.Channels[c], err)
			}
			s.Values[c] = append(s.Values[c], v)
		}
	}

	if sampleRate <= 0 {
		sampleRate = InferSampleRate(s.Time)
	}
	s.SampleRate = sampleRate
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseTime 解析 unix 秒（可带小数）或 RFC3339 时间
func ParseTime(field string) (float64, error) {
	field = strings.TrimSpace(field)
	if v, err := strconv.ParseFloat(field, 64); err == nil {
		return v, nil
	}
	t, err := time.Parse(time.RFC3339Nano, field)
	if err != nil {
		return 0, fmt.Errorf("%w: unparseable time %q", pipeerrors.ErrInvalidStream, field)
	}
	return models.UnixSeconds(t), nil
}

// 空字段视为缺失值
func parseValue(field string) (float64, error) {
	field = strings.TrimSpace(field)
	if field == "" || strings.EqualFold(field, "nan") {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unparseable value %q", pipeerrors.ErrInvalidStream, field)
	}
	return v, nil
}

// InferSampleRate 采样间隔中位数的倒数，保留三位小数；样本不足两个时返回 0
func InferSampleRate(t []float64) float64 {
	if len(t) < 2 {
		return 0
	}
	d := make([]float64, len(t)-1)
	for i := 1; i < len(t); i++ {
		d[i-1] = t[i] - t[i-1]
	}
	slices.Sort(d)
	med := d[len(d)/2]
	if len(d)%2 == 0 {
		med = (d[len(d)/2-1] + d[len(d)/2]) / 2
	}
	if med <= 0 {
		return 0
	}
	return math.Round(1000/med) / 1000
}

// WriteCSV 以 unix 秒格式写出传感器流
func WriteCSV(w io.Writer, s *models.SensorStream) error {
	cw := csv.NewWriter(w)
	header := append([]string{"time"}, s.Channels...)
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, len(header))
	for i, t := range s.Time {
		rec[0] = strconv.FormatFloat(t, 'f', 3, 64)
		for c := range s.Channels {
			rec[c+1] = strconv.FormatFloat(s.Values[c][i], 'f', 5, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
