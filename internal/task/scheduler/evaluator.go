package scheduler

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule yields the next activation strictly after t. A zero result means
// the schedule never fires again.
type Schedule = cron.Schedule

// Evaluator turns a schedule expression into a Schedule.
type Evaluator interface {
	Parse(expr string) (Schedule, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(expr string) (Schedule, error)

func (f EvaluatorFunc) Parse(expr string) (Schedule, error) { return f(expr) }

// NewEvaluator returns the default robfig/cron backed evaluator.
//
// Supported expression forms:
//   - Cron, 5 or 6 fields (seconds optional): "*/5 * * * *", "0 30 * * * *"
//   - Descriptors: "@hourly", "@daily", "@every 90s"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//
// Optional prefixes: "cron:" forces cron parsing, "interval:" or "every:"
// forces interval parsing.
func NewEvaluator() Evaluator {
	return cronEvaluator{
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

type cronEvaluator struct {
	parser cron.Parser
}

func (e cronEvaluator) Parse(expr string) (Schedule, error) {
	spec, err := Normalize(expr)
	if err != nil {
		return nil, err
	}
	return e.parser.Parse(spec)
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// Normalize rewrites the interval shorthands into robfig specs ("@every 55m")
// and strips a "cron:" prefix. Cron expressions pass through untouched.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return "", fmt.Errorf("cron schedule required after 'cron:'")
		}
		return expr, nil
	}
	for _, p := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, p) {
			d, err := parseInterval(s[len(p):])
			if err != nil {
				return "", err
			}
			return every(d), nil
		}
	}

	// Any whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return s, nil
	}
	if reHHMM.MatchString(s) {
		d, err := parseHHMMDuration(s)
		if err != nil {
			return "", err
		}
		return every(d), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return "", fmt.Errorf("interval must be > 0")
		}
		return every(d), nil
	}

	return "", fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')",
		raw,
	)
}

func every(d time.Duration) string { return "@every " + d.String() }

func parseInterval(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		return parseHHMMDuration(v)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

// PreviewNext returns up to n upcoming activations after from.
func PreviewNext(sched Schedule, from time.Time, n int) []time.Time {
	if sched == nil || n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}
