package strategy

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// paramSchemas 约束每类策略可接受的 params，未知键直接拒绝。
var paramSchemas = map[string]string{
	"ma_crossover": `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"short_window": {"type": "number", "minimum": 2, "maximum": 250},
			"long_window":  {"type": "number", "minimum": 3, "maximum": 500}
		}
	}`,
	"rsi": `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"period":     {"type": "integer", "minimum": 2, "maximum": 100},
			"overbought": {"type": "number", "exclusiveMinimum": 50, "exclusiveMaximum": 100},
			"oversold":   {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 50}
		}
	}`,
	"macd": `{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"fast_period":   {"type": "integer", "minimum": 2, "maximum": 100},
			"slow_period":   {"type": "integer", "minimum": 3, "maximum": 200},
			"signal_period": {"type": "integer", "minimum": 2, "maximum": 100}
		}
	}`,
	"bollinger": `{"type": "object", "additionalProperties": false}`,
}

var (
	schemaOnce     sync.Once
	schemaErr      error
	compiledSchema map[string]*jsonschema.Schema
)

func compileParamSchemas() (map[string]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema = make(map[string]*jsonschema.Schema, len(paramSchemas))
		compiler := jsonschema.NewCompiler()
		for kind, raw := range paramSchemas {
			url := kind + ".json"
			if err := compiler.AddResource(url, strings.NewReader(raw)); err != nil {
				schemaErr = fmt.Errorf("策略 %s params schema 无效: %w", kind, err)
				return
			}
			sch, err := compiler.Compile(url)
			if err != nil {
				schemaErr = fmt.Errorf("策略 %s params schema 编译失败: %w", kind, err)
				return
			}
			compiledSchema[kind] = sch
		}
	})
	return compiledSchema, schemaErr
}

// ValidateParams 按策略类型的 schema 校验参数。
func ValidateParams(kind string, params map[string]float64) error {
	schemas, err := compileParamSchemas()
	if err != nil {
		return err
	}
	sch, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("未知策略类型 %q", kind)
	}
	// 先走一遍 JSON，得到 schema 校验器期望的 map[string]any
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("%s params 不合法: %w", kind, err)
	}
	switch kind {
	case "ma_crossover":
		short, long := params["short_window"], params["long_window"]
		if short > 0 && long > 0 && short >= long {
			return fmt.Errorf("%s params 不合法: short_window 必须小于 long_window", kind)
		}
	case "macd":
		fast, slow := params["fast_period"], params["slow_period"]
		if fast == 0 {
			fast = 12
		}
		if slow == 0 {
			slow = 26
		}
		if fast >= slow {
			return fmt.Errorf("%s params 不合法: fast_period 必须小于 slow_period", kind)
		}
	}
	return nil
}
