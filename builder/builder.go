package builder

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// TypeDefinitions generates the type preamble shared by kernel templates and
// user functor code: the real_t/int_t typedefs, literal helpers, the
// partition width and any static tables.
type TypeDefinitions struct {
	FloatType DataType
	IntType   DataType

	// KpartMax is the number of inner work items per partition
	KpartMax int

	// Static data to embed
	StaticMatrices map[string]mat.Matrix
}

// NewTypeDefinitions returns definitions for the element type with the
// integer type defaulting to INT64.
func NewTypeDefinitions(elem DataType, kpartMax int) *TypeDefinitions {
	td := &TypeDefinitions{
		FloatType:      Float64,
		IntType:        INT64,
		KpartMax:       kpartMax,
		StaticMatrices: make(map[string]mat.Matrix),
	}
	switch elem {
	case Float32:
		td.FloatType = Float32
		td.IntType = INT32
	case INT32:
		td.IntType = INT32
	}
	return td
}

// AddStaticMatrix adds a matrix to be embedded as static const in kernels
func (td *TypeDefinitions) AddStaticMatrix(name string, m mat.Matrix) {
	if td.StaticMatrices == nil {
		td.StaticMatrices = make(map[string]mat.Matrix)
	}
	td.StaticMatrices[name] = m
}

// Generate returns the preamble source.
func (td *TypeDefinitions) Generate() string {
	var sb strings.Builder

	// 1. Type definitions and constants
	sb.WriteString(td.generateTypeDefinitions())

	// 2. Static matrix declarations
	sb.WriteString(td.generateStaticMatrices())

	return sb.String()
}

// generateTypeDefinitions creates type definitions based on precision settings
func (td *TypeDefinitions) generateTypeDefinitions() string {
	var sb strings.Builder

	floatTypeStr := "double"
	floatSuffix := ""
	if td.FloatType == Float32 {
		floatTypeStr = "float"
		floatSuffix = "f"
	}

	intTypeStr := "long"
	if td.IntType == INT32 {
		intTypeStr = "int"
	}

	sb.WriteString(fmt.Sprintf("typedef %s real_t;\n", floatTypeStr))
	sb.WriteString(fmt.Sprintf("typedef %s int_t;\n", intTypeStr))
	sb.WriteString(fmt.Sprintf("#define REAL_ZERO 0.0%s\n", floatSuffix))
	sb.WriteString(fmt.Sprintf("#define REAL_ONE 1.0%s\n", floatSuffix))
	sb.WriteString("\n")

	if td.KpartMax > 0 {
		sb.WriteString(fmt.Sprintf("#define KpartMax %d\n", td.KpartMax))
		sb.WriteString("\n")
	}

	return sb.String()
}

// generateStaticMatrices converts matrices to static array initializations,
// in name order so the same tables always produce the same source.
func (td *TypeDefinitions) generateStaticMatrices() string {
	if len(td.StaticMatrices) == 0 {
		return ""
	}
	names := make([]string, 0, len(td.StaticMatrices))
	for name := range td.StaticMatrices {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("// Static matrices\n")
	for _, name := range names {
		sb.WriteString(td.formatStaticMatrix(name, td.StaticMatrices[name]))
	}
	return sb.String()
}

// formatStaticMatrix formats a single matrix as a static C array.
// The matrix is transposed on the way out: tables are stored column-major,
// declared [cols][rows], so the first index walks a column.
func (td *TypeDefinitions) formatStaticMatrix(name string, m mat.Matrix) string {
	rows, cols := m.Dims()
	var sb strings.Builder

	typeStr := "double"
	if td.FloatType == Float32 {
		typeStr = "float"
	}

	sb.WriteString(fmt.Sprintf("// Matrix %s stored in column-major format\n", name))
	sb.WriteString(fmt.Sprintf("const %s %s[%d][%d] = {\n", typeStr, name, cols, rows))

	for j := 0; j < cols; j++ {
		sb.WriteString("    {")
		for i := 0; i < rows; i++ {
			if i > 0 {
				sb.WriteString(", ")
			}
			val := m.At(i, j)
			if td.FloatType == Float32 {
				sb.WriteString(fmt.Sprintf("%.7ef", val))
			} else {
				sb.WriteString(fmt.Sprintf("%.15e", val))
			}
		}
		sb.WriteString("}")
		if j < cols-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("};\n\n")

	return sb.String()
}
