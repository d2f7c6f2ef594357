package em2

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/maxiv-kitscontrols/albaem/internal/models"
	"go.starlark.net/starlark"
)

// The device answers data queries with Python literals such as
// [['CHAN01', [1.0, 2.0]], ['CHAN02', [3.0, 4.0]]]. They are evaluated as
// starlark expressions with an empty environment, so nothing but literals
// can be resolved.
func evalLiteral(reply string) (starlark.Value, error) {
	thread := &starlark.Thread{Name: "reply"}
	v, err := starlark.Eval(thread, "reply", reply, nil)
	if err != nil {
		return nil, &models.AlbaEMError{
			Type: models.ErrProtocol,
			Err:  fmt.Errorf("cannot parse reply %q: %w", truncate(reply, 80), err),
		}
	}
	return v, nil
}

func parseFloat(reply string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(reply), 64)
	if err != nil {
		return 0, &models.AlbaEMError{
			Type: models.ErrProtocol,
			Err:  fmt.Errorf("expected a number, got %q", reply),
		}
	}
	return f, nil
}

func parseInt(reply string) (int, error) {
	s := strings.TrimSpace(reply)
	n, err := strconv.Atoi(s)
	if err != nil {
		// some firmwares answer counters as floats
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, &models.AlbaEMError{
				Type: models.ErrProtocol,
				Err:  fmt.Errorf("expected an integer, got %q", reply),
			}
		}
		n = int(f)
	}
	return n, nil
}

// parseFloatList accepts a scalar or a list/tuple of numbers
func parseFloatList(reply string) ([]float64, error) {
	v, err := evalLiteral(reply)
	if err != nil {
		return nil, err
	}
	if f, ok := starlark.AsFloat(v); ok {
		return []float64{f}, nil
	}
	return toFloats(v)
}

// parseChannelData decodes the ACQU:MEAS? answer. Both a list of
// [name, values] pairs and a dict are accepted; the device order is kept.
func parseChannelData(reply string) ([]models.ChannelData, error) {
	v, err := evalLiteral(reply)
	if err != nil {
		return nil, err
	}

	var pairs []starlark.Tuple
	switch x := v.(type) {
	case *starlark.Dict:
		pairs = x.Items()
	case starlark.Indexable:
		for i := 0; i < x.Len(); i++ {
			item, ok := x.Index(i).(starlark.Indexable)
			if !ok || item.Len() != 2 {
				return nil, protocolErrorf("data entry %d is not a [name, values] pair", i)
			}
			pairs = append(pairs, starlark.Tuple{item.Index(0), item.Index(1)})
		}
	default:
		return nil, protocolErrorf("unexpected data reply type %s", v.Type())
	}

	data := make([]models.ChannelData, 0, len(pairs))
	for _, pair := range pairs {
		name, ok := starlark.AsString(pair[0])
		if !ok {
			return nil, protocolErrorf("channel name %s is not a string", pair[0])
		}
		values, err := toFloats(pair[1])
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", name, err)
		}
		data = append(data, models.ChannelData{Name: name, Values: values})
	}
	return data, nil
}

func toFloats(v starlark.Value) ([]float64, error) {
	seq, ok := v.(starlark.Indexable)
	if !ok {
		return nil, protocolErrorf("expected a list of numbers, got %s", v.Type())
	}
	out := make([]float64, seq.Len())
	for i := range out {
		f, ok := starlark.AsFloat(seq.Index(i))
		if !ok {
			return nil, protocolErrorf("element %d (%s) is not a number", i, seq.Index(i))
		}
		out[i] = f
	}
	return out, nil
}

func protocolErrorf(format string, args ...interface{}) error {
	return models.NewError(models.ErrProtocol, format, args...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
