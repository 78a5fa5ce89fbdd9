// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// SummaryRows is the maximum number of rows displayed by Summary. Larger tensors show their first and last
// SummaryRows/2 rows.
var SummaryRows = 6

// SummaryRowElements is the maximum number of elements of a row displayed by Summary.
var SummaryRowElements = 6

// Summary returns a multi-line display of the tensor's content, one line per row (the first axis) with
// each row flattened. Values are printed with the given precision.
func (t *Tensor) Summary(precision int) string {
	if err := t.CheckValid(); err != nil {
		return err.Error()
	}
	shape := t.Shape()
	var buf bytes.Buffer
	w := func(format string, args ...any) { _, _ = fmt.Fprintf(&buf, format, args...) }
	w("%s@%s", shape, t.Place())
	if lod := t.LoD(); len(lod) > 0 {
		w(" lod=%v", lod)
	}
	if shape.IsZeroSize() {
		return buf.String()
	}
	t.ConstFlatData(func(flat any) {
		values := reflect.ValueOf(flat)
		if shape.IsScalar() {
			w(": ")
			writeValue(&buf, values.Index(0), precision)
			return
		}
		numRows, rowSize := shape.Dim(0), shape.RowSize()
		writeRows(&buf, numRows, func(row int) {
			writeRow(&buf, values.Slice(row*rowSize, (row+1)*rowSize), precision)
		})
	})
	return buf.String()
}

// Summary returns a multi-line display of the sparse tensor: each line shows the logical row index
// and its value row.
func (sr *SelectedRows) Summary(precision int) string {
	value := sr.Value()
	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "SelectedRows(height=%d, %d rows)", sr.Height(), sr.NumRows())
	if err := sr.Validate(); err != nil || value.Shape().IsZeroSize() {
		return buf.String()
	}
	rows := sr.Rows()
	rowSize := value.Shape().RowSize()
	value.ConstFlatData(func(flat any) {
		values := reflect.ValueOf(flat)
		writeRows(&buf, len(rows), func(ii int) {
			_, _ = fmt.Fprintf(&buf, "#%d: ", rows[ii])
			writeRow(&buf, values.Slice(ii*rowSize, (ii+1)*rowSize), precision)
		})
	})
	return buf.String()
}

// writeRows writes one line per row, using an ellipsis if there are more than SummaryRows.
func writeRows(buf *bytes.Buffer, numRows int, rowFn func(row int)) {
	half := max(SummaryRows/2, 1)
	for row := 0; row < numRows; row++ {
		if numRows > SummaryRows && row == half {
			buf.WriteString("\n  ...")
			row = numRows - half
		}
		buf.WriteString("\n  ")
		rowFn(row)
	}
}

func writeRow(buf *bytes.Buffer, row reflect.Value, precision int) {
	buf.WriteString("[")
	n := row.Len()
	half := max(SummaryRowElements/2, 1)
	for ii := 0; ii < n; ii++ {
		if ii > 0 {
			buf.WriteString(", ")
		}
		if n > SummaryRowElements && ii == half {
			buf.WriteString("..., ")
			ii = n - half
		}
		writeValue(buf, row.Index(ii), precision)
	}
	buf.WriteString("]")
}

func writeValue(buf *bytes.Buffer, v reflect.Value, precision int) {
	switch x := v.Interface().(type) {
	case float16.Float16:
		_, _ = fmt.Fprintf(buf, "%.*g", precision, x.Float32())
		return
	case bfloat16.BFloat16:
		_, _ = fmt.Fprintf(buf, "%.*g", precision, x.Float32())
		return
	}
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		_, _ = fmt.Fprintf(buf, "%.*g", precision, v.Float())
	case reflect.Complex64, reflect.Complex128:
		c := v.Complex()
		_, _ = fmt.Fprintf(buf, "(%.*g%+.*gi)", precision, real(c), precision, imag(c))
	default:
		_, _ = fmt.Fprintf(buf, "%v", v.Interface())
	}
}
