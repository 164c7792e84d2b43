package config

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"

	pipeerrors "wisefido-actigraphy/internal/errors"
	"wisefido-actigraphy/internal/module"
	"wisefido-actigraphy/internal/pipeline"
)

// PipelineFile YAML 管线文件，未出现的字段不覆盖环境配置
//
//	window_rule: daily@12
//	completeness_threshold: 0.9
//	modules:
//	  - name: wear
//	  - name: sleep
//	    params:
//	      min_rest_block: 30m
type PipelineFile struct {
	WindowRule            *string                  `yaml:"window_rule"`
	CompletenessThreshold *float64                 `yaml:"completeness_threshold"`
	GapToleranceFactor    *float64                 `yaml:"gap_tolerance_factor"`
	PrimaryStream         *string                  `yaml:"primary_stream"`
	ResampleRate          *float64                 `yaml:"resample_rate"`
	Workers               *int                     `yaml:"workers"`
	StrictDependencies    *bool                    `yaml:"strict_dependencies"`
	ModuleParams          map[string]module.Params `yaml:"module_params"`
	Modules               []module.Definition      `yaml:"modules"`
}

// LoadPipelineFile 读取并解析管线文件，未知字段视为配置错误
func LoadPipelineFile(path string) (*PipelineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pipeerrors.WrapConfiguration(err, "config", "LoadPipelineFile", "read "+path)
	}
	return ParsePipelineFile(data)
}

// ParsePipelineFile 解析管线文件内容
func ParsePipelineFile(data []byte) (*PipelineFile, error) {
	var f PipelineFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, pipeerrors.WrapConfiguration(err, "config", "ParsePipelineFile", "decode yaml")
	}
	seen := make(map[string]struct{}, len(f.Modules))
	for i, d := range f.Modules {
		if d.Name == "" {
			return nil, pipeerrors.Configf(pipeerrors.ErrInvalidOption, "config", "modules[%d] has no name", i)
		}
		if _, dup := seen[d.Name]; dup {
			return nil, pipeerrors.Configf(pipeerrors.ErrDuplicateModule, "config", "module %q listed twice", d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return &f, nil
}

// Apply 将文件中出现的字段写入 opts
func (f *PipelineFile) Apply(opts *pipeline.Options) {
	if f.WindowRule != nil {
		opts.WindowRule = *f.WindowRule
	}
	if f.CompletenessThreshold != nil {
		opts.CompletenessThreshold = *f.CompletenessThreshold
	}
	if f.GapToleranceFactor != nil {
		opts.GapToleranceFactor = *f.GapToleranceFactor
	}
	if f.PrimaryStream != nil {
		opts.PrimaryStream = *f.PrimaryStream
	}
	if f.ResampleRate != nil {
		opts.ResampleRate = *f.ResampleRate
	}
	if f.Workers != nil {
		opts.Workers = *f.Workers
	}
	if f.StrictDependencies != nil {
		opts.StrictDependencies = *f.StrictDependencies
	}
	if len(f.ModuleParams) > 0 {
		merged := make(map[string]module.Params, len(opts.ModuleParams)+len(f.ModuleParams))
		for k, v := range opts.ModuleParams {
			merged[k] = v
		}
		for k, v := range f.ModuleParams {
			merged[k] = merged[k].Merge(v)
		}
		opts.ModuleParams = merged
	}
}

