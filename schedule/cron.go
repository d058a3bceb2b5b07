package schedule

import (
	"strings"

	"github.com/gorhill/cronexpr"
)

// ParseCron parses a 5, 6 or 7 field cron expression. A 6-field expression
// is read seconds first (second minute hour dom month dow); the year field
// is only recognised in the 7-field form.
func ParseCron(expr string) (*cronexpr.Expression, error) {
	if len(strings.Fields(expr)) == 6 {
		expr += " *"
	}
	return cronexpr.Parse(expr)
}
