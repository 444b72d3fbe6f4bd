package message

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/glimte/mmate-jms/contracts"
)

func mismatch(v any, target string) error {
	if v == nil {
		return fmt.Errorf("%w: cannot read null as %s", contracts.ErrFormatMismatch, target)
	}
	return fmt.Errorf("%w: cannot read %T as %s", contracts.ErrFormatMismatch, v, target)
}

func parseFailed(s, target string, err error) error {
	return fmt.Errorf("%w: %q is not a valid %s: %w", contracts.ErrFormatMismatch, s, target, err)
}

// checkValue verifies v is one of the types a property, map entry or stream item may hold
func checkValue(v any, allowBytes bool) error {
	switch v.(type) {
	case nil, bool, int8, int16, Char, int32, int64, float32, float64, string:
		return nil
	case []byte:
		if allowBytes {
			return nil
		}
	}
	return fmt.Errorf("%w: unsupported value type %T", contracts.ErrFormatMismatch, v)
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return strings.EqualFold(x, "true"), nil
	case nil:
		return false, nil
	}
	return false, mismatch(v, "boolean")
}

func toInt8(v any) (int8, error) {
	switch x := v.(type) {
	case int8:
		return x, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 8)
		if err != nil {
			return 0, parseFailed(x, "byte", err)
		}
		return int8(n), nil
	}
	return 0, mismatch(v, "byte")
}

func toInt16(v any) (int16, error) {
	switch x := v.(type) {
	case int8:
		return int16(x), nil
	case int16:
		return x, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 16)
		if err != nil {
			return 0, parseFailed(x, "short", err)
		}
		return int16(n), nil
	}
	return 0, mismatch(v, "short")
}

func toChar(v any) (Char, error) {
	if x, ok := v.(Char); ok {
		return x, nil
	}
	return 0, mismatch(v, "char")
}

func toInt32(v any) (int32, error) {
	switch x := v.(type) {
	case int8:
		return int32(x), nil
	case int16:
		return int32(x), nil
	case int32:
		return x, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 32)
		if err != nil {
			return 0, parseFailed(x, "int", err)
		}
		return int32(n), nil
	}
	return 0, mismatch(v, "int")
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, parseFailed(x, "long", err)
		}
		return n, nil
	}
	return 0, mismatch(v, "long")
}

func toFloat32(v any) (float32, error) {
	switch x := v.(type) {
	case float32:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 32)
		if err != nil {
			return 0, parseFailed(x, "float", err)
		}
		return float32(f), nil
	}
	return 0, mismatch(v, "float")
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, parseFailed(x, "double", err)
		}
		return f, nil
	}
	return 0, mismatch(v, "double")
}

func toString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int8:
		return strconv.FormatInt(int64(x), 10), nil
	case int16:
		return strconv.FormatInt(int64(x), 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case Char:
		return x.String(), nil
	}
	return "", mismatch(v, "string")
}

func toBytes(v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return cloneBytes(x), nil
	}
	return nil, mismatch(v, "bytes")
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
