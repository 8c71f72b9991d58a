package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/drowseguard/drowseguard/internal/engine"
	"github.com/drowseguard/drowseguard/internal/ocular"
)

// condition is a parsed "field op value" expression.
//
// Supported expressions:
//
//	alert == true
//	openness < 0.2
//	low_frames >= 10
//	alert_transitions >= 3
//	alert_frames > 100
//	elapsed_min > 120
//	confidence == none
type condition struct {
	field string
	op    string
	num   float64
	text  string
}

var numericFields = map[string]func(engine.FrameResult) float64{
	"openness":          func(r engine.FrameResult) float64 { return r.Openness },
	"low_frames":        func(r engine.FrameResult) float64 { return float64(r.LowFrames) },
	"alert_transitions": func(r engine.FrameResult) float64 { return float64(r.Stats.AlertTransitions) },
	"alert_frames":      func(r engine.FrameResult) float64 { return float64(r.Stats.AlertFrames) },
	"elapsed_min":       func(r engine.FrameResult) float64 { return r.Stats.Elapsed.Minutes() },
}

// parseCondition validates cond and returns its compiled form.
func parseCondition(cond string) (condition, error) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"field op value\"", cond)
	}
	c := condition{field: parts[0], op: parts[1], text: strings.ToLower(parts[2])}

	switch c.field {
	case "alert":
		if c.op != "==" && c.op != "!=" {
			return condition{}, fmt.Errorf("condition %q: alert supports == and !=", cond)
		}
		if _, err := strconv.ParseBool(c.text); err != nil {
			return condition{}, fmt.Errorf("condition %q: alert value must be true or false", cond)
		}
	case "confidence":
		if c.op != "==" && c.op != "!=" {
			return condition{}, fmt.Errorf("condition %q: confidence supports == and !=", cond)
		}
		if _, err := ocular.ParseConfidence(c.text); err != nil {
			return condition{}, fmt.Errorf("condition %q: %w", cond, err)
		}
	default:
		if _, ok := numericFields[c.field]; !ok {
			return condition{}, fmt.Errorf("condition %q: unknown field %q", cond, c.field)
		}
		switch c.op {
		case ">", ">=", "<", "<=", "==", "!=":
		default:
			return condition{}, fmt.Errorf("condition %q: unknown operator %q", cond, c.op)
		}
		v, err := strconv.ParseFloat(c.text, 64)
		if err != nil {
			return condition{}, fmt.Errorf("condition %q: value is not a number", cond)
		}
		c.num = v
	}
	return c, nil
}

// eval reports whether the condition holds for res, along with the value
// that was compared.
func (c condition) eval(res engine.FrameResult) (bool, float64) {
	switch c.field {
	case "alert":
		want, _ := strconv.ParseBool(c.text)
		v := 0.0
		if res.Alert {
			v = 1
		}
		return (res.Alert == want) == (c.op == "=="), v
	case "confidence":
		want, _ := ocular.ParseConfidence(c.text)
		return (res.Confidence == want) == (c.op == "=="), float64(res.Confidence)
	default:
		v := numericFields[c.field](res)
		return compareFloat(v, c.op, c.num), v
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
