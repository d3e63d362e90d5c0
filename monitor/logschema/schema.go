package logschema

import (
	"fmt"
	"sort"
	"strings"
)

// Schema 定义每个日志事件所需的关键字段，便于集中校验。
type Schema struct {
	Event    string
	Required []string
}

var schemas = map[string]Schema{
	"quote_place": {
		Event:    "quote_place",
		Required: []string{"symbol", "side", "price", "qty"},
	},
	"quote_status": {
		Event:    "quote_status",
		Required: []string{"status", "index_price", "price", "diff_bps"},
	},
	"quote_cancel": {
		Event:    "quote_cancel",
		Required: []string{"reason"},
	},
	"unwind_maker_place": {
		Event:    "unwind_maker_place",
		Required: []string{"side", "price", "qty"},
	},
	"unwind_maker_poll": {
		Event:    "unwind_maker_poll",
		Required: []string{"attempt", "status"},
	},
	"unwind_taker_place": {
		Event:    "unwind_taker_place",
		Required: []string{"side", "qty", "reason"},
	},
	"unwind_done": {
		Event:    "unwind_done",
		Required: []string{"outcome"},
	},
	"cancel_backoff": {
		Event:    "cancel_backoff",
		Required: []string{"sleep_ms", "pending"},
	},
	"cooldown": {
		Event:    "cooldown",
		Required: []string{"sleep_ms"},
	},
	"quote_resume_wait": {
		Event:    "quote_resume_wait",
		Required: []string{"sleep_ms"},
	},
}

// Known 返回所有事件名，便于外部生成文档。
func Known() []string {
	names := make([]string, 0, len(schemas))
	for k := range schemas {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate 检查日志字段是否包含 schema 中要求的 key。
func Validate(event string, fields map[string]interface{}) error {
	s, ok := schemas[event]
	if !ok {
		return nil
	}
	var missing []string
	for _, key := range s.Required {
		if _, exists := fields[key]; !exists {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing fields: %s", strings.Join(missing, ","))
	}
	return nil
}
