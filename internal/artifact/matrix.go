package artifact

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Matrix 是按 offset 行优先存放的嵌入矩阵。
type Matrix struct {
	Dim  int
	Data []float32
}

// NewMatrix 创建空矩阵，预留 capacity 行。
func NewMatrix(dim, capacity int) *Matrix {
	return &Matrix{Dim: dim, Data: make([]float32, 0, dim*capacity)}
}

// Rows 返回行数。
func (m *Matrix) Rows() int {
	if m.Dim == 0 {
		return 0
	}
	return len(m.Data) / m.Dim
}

// Row 返回第 i 行，切片与矩阵共享内存。
func (m *Matrix) Row(i int) []float32 {
	return m.Data[i*m.Dim : (i+1)*m.Dim]
}

// Append 追加一行，摊还 O(d)。
func (m *Matrix) Append(v []float32) error {
	if len(v) != m.Dim {
		return fmt.Errorf("matrix append: vector has dim %d, matrix has %d", len(v), m.Dim)
	}
	m.Data = append(m.Data, v...)
	return nil
}

// With 返回追加了一行的新矩阵，接收者不变，两者共享底层数组。
func (m *Matrix) With(v []float32) (*Matrix, error) {
	next := &Matrix{Dim: m.Dim, Data: m.Data}
	if err := next.Append(v); err != nil {
		return nil, err
	}
	return next, nil
}

// EncodeMatrix 把矩阵编码为小端 float32 序列。
func EncodeMatrix(m *Matrix) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4*len(m.Data)))
	_ = binary.Write(buf, binary.LittleEndian, m.Data)
	return buf.Bytes()
}

// DecodeMatrix 解码 EncodeMatrix 的输出，数据长度必须是 4*dim 的整数倍。
func DecodeMatrix(data []byte, dim int) (*Matrix, error) {
	if dim <= 0 || len(data)%(4*dim) != 0 {
		return nil, fmt.Errorf("embedding matrix of %d bytes is not a whole number of rows of dim %d", len(data), dim)
	}
	out := make([]float32, len(data)/4)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, out); err != nil {
		return nil, fmt.Errorf("decode embedding matrix: %w", err)
	}
	return &Matrix{Dim: dim, Data: out}, nil
}
