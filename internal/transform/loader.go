package transform

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/peterpiperpicked4/vaulthealth/internal/schema"
)

// 导入配置支持以 YAML 文件形式分发/编辑，入库前先校验。

var validTransforms = map[string]bool{
	"":                        true,
	schema.TransformDirect:    true,
	schema.TransformTimestamp: true,
	schema.TransformDuration:  true,
	schema.TransformMultiply:  true,
	schema.TransformDivide:    true,
	schema.TransformMap:       true,
	schema.TransformRegex:     true,
	schema.TransformJSONPath:  true,
	schema.TransformCompute:   true,
	schema.TransformCoalesce:  true,
}

var validTargets = map[string]bool{
	"sleep_sessions":   true,
	"workout_sessions": true,
	"daily_metrics":    true,
}

// LoadProfileFile 从 YAML 文件读取导入配置并校验
func LoadProfileFile(path string) (*schema.ImporterProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var profile schema.ImporterProfile
	if err := yaml.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("解析配置 YAML 失败: %w", err)
	}
	if err := ValidateProfile(&profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// SaveProfileFile 把导入配置序列化为 YAML 文件
func SaveProfileFile(profile *schema.ImporterProfile, path string) error {
	if err := ValidateProfile(profile); err != nil {
		return err
	}
	raw, err := yaml.Marshal(profile)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}

// ValidateProfile 结构校验：名称、目标表、变换类型、字段必填项
func ValidateProfile(profile *schema.ImporterProfile) error {
	if profile == nil {
		return fmt.Errorf("配置不能为空")
	}
	if profile.Name == "" {
		return fmt.Errorf("配置缺少 name")
	}
	if len(profile.Mappings) == 0 {
		return fmt.Errorf("配置 %s 缺少映射", profile.Name)
	}

	for i, m := range profile.Mappings {
		if m.SourcePath == "" {
			return fmt.Errorf("映射 %d 缺少 source_path", i)
		}
		if !validTargets[m.Target] {
			return fmt.Errorf("映射 %d 的目标表 %q 不受支持", i, m.Target)
		}
		if len(m.Fields) == 0 {
			return fmt.Errorf("映射 %d 没有字段", i)
		}
		for j, f := range m.Fields {
			if f.Target == "" {
				return fmt.Errorf("映射 %d 字段 %d 缺少 target", i, j)
			}
			if !validTransforms[f.Transform] {
				return fmt.Errorf("映射 %d 字段 %s 的变换 %q 不受支持", i, f.Target, f.Transform)
			}
			if f.Transform == schema.TransformCoalesce {
				if len(f.Sources) == 0 {
					return fmt.Errorf("映射 %d 字段 %s 的 coalesce 缺少候选来源", i, f.Target)
				}
			} else if f.Source == "" && f.Transform != schema.TransformCompute {
				return fmt.Errorf("映射 %d 字段 %s 缺少 source", i, f.Target)
			}
		}
	}
	return nil
}
