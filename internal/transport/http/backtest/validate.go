package backtesthttp

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

const maxSweepThresholds = 64

// validateSweepBody 在绑定结构体前检查扫描请求，错误信息定位到具体下标。
func validateSweepBody(raw []byte) error {
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return fmt.Errorf("请求体为空")
	}
	if !gjson.Valid(body) {
		return fmt.Errorf("json 格式无效")
	}
	parsed := gjson.Parse(body)
	if !parsed.IsObject() {
		return fmt.Errorf("根节点必须是 JSON 对象")
	}
	thresholds := parsed.Get("thresholds")
	if !thresholds.Exists() {
		return fmt.Errorf("thresholds 必填")
	}
	if !thresholds.IsArray() {
		return fmt.Errorf("thresholds 必须是数组")
	}
	items := thresholds.Array()
	switch {
	case len(items) == 0:
		return fmt.Errorf("thresholds 不能为空")
	case len(items) > maxSweepThresholds:
		return fmt.Errorf("thresholds 最多 %d 个", maxSweepThresholds)
	}
	for i, item := range items {
		if item.Type != gjson.Number {
			return fmt.Errorf("thresholds[%d] 必须是数字", i)
		}
		if v := item.Float(); v < 0 || v > 1 {
			return fmt.Errorf("thresholds[%d]=%.4f 超出 [0, 1]", i, v)
		}
	}
	if p := parsed.Get("parallel"); p.Exists() && p.Type != gjson.Number {
		return fmt.Errorf("parallel 必须是数字")
	}
	return nil
}
