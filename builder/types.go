package builder

import (
	"fmt"
	"reflect"
)

// DataType represents the precision of numerical data
type DataType int

const (
	Float32 DataType = iota + 1
	Float64
	INT32
	INT64
)

func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	case INT32:
		return "INT32"
	case INT64:
		return "INT64"
	default:
		return fmt.Sprintf("DataType(%d)", int(dt))
	}
}

// IsReal reports whether dt is a floating point type
func (dt DataType) IsReal() bool {
	return dt == Float32 || dt == Float64
}

// SizeOfType returns the size in bytes of a data type
func SizeOfType(dt DataType) int64 {
	switch dt {
	case Float32, INT32:
		return 4
	case Float64, INT64:
		return 8
	default:
		return 8
	}
}

// TypeName returns the kernel-language type name for a DataType
func TypeName(dt DataType) string {
	switch dt {
	case Float32:
		return "float"
	case Float64:
		return "double"
	case INT32:
		return "int"
	case INT64:
		return "long"
	default:
		return ""
	}
}

// TypeSuffix returns the numeric suffix for floating point literals
func TypeSuffix(dt DataType) string {
	if dt == Float32 {
		return "f"
	}
	return ""
}

// DataTypeOf returns the DataType of a Go element type, or 0 for types that
// have no kernel-language counterpart.
func DataTypeOf[T any]() DataType {
	var sample T
	switch any(sample).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	case int32:
		return INT32
	case int64:
		return INT64
	}
	// Named types such as `type Celsius float32` resolve by kind.
	t := reflect.TypeOf(sample)
	if t == nil {
		return 0
	}
	switch t.Kind() {
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	case reflect.Int32:
		return INT32
	case reflect.Int64:
		return INT64
	default:
		return 0
	}
}

// TypeNameOf returns the kernel-language type name of a Go element type.
func TypeNameOf[T any]() (string, error) {
	dt := DataTypeOf[T]()
	if dt == 0 {
		var sample T
		return "", fmt.Errorf("no kernel type for %T", sample)
	}
	return TypeName(dt), nil
}
