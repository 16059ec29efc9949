package tensor

import "fmt"

// Device names where a tensor lives. The zero value is the CPU.
type Device struct {
	Name string
}

// CPU is the default compute device.
var CPU = Device{Name: "cpu"}

// GPU returns the device tag for the i-th accelerator.
func GPU(i int) Device {
	return Device{Name: fmt.Sprintf("cuda:%d", i)}
}

// ParseDevice maps a configured device name to a Device.
func ParseDevice(name string) Device {
	if name == "" {
		return CPU
	}
	return Device{Name: name}
}

// Placeable is implemented by batch entries that live on a compute device.
// Non-placeable batch entries pass through device placement unchanged.
type Placeable interface {
	To(Device) Placeable
}

// Dense is a 2-D int64 tensor holding token ids, attention masks or
// labels, row-major.
type Dense struct {
	rows, cols int
	data       []int64
	device     Device
}

// NewDense allocates a zeroed rows x cols tensor on the CPU.
func NewDense(rows, cols int) *Dense {
	return &Dense{rows: rows, cols: cols, data: make([]int64, rows*cols), device: CPU}
}

// FromRows builds a Dense from equal-length rows.
func FromRows(rows [][]int64) *Dense {
	if len(rows) == 0 {
		return NewDense(0, 0)
	}
	cols := len(rows[0])
	d := NewDense(len(rows), cols)
	for i, row := range rows {
		copy(d.data[i*cols:(i+1)*cols], row)
	}
	return d
}

// Dims returns the row and column counts.
func (d *Dense) Dims() (rows, cols int) { return d.rows, d.cols }

// At returns the element at (i, j).
func (d *Dense) At(i, j int) int64 { return d.data[i*d.cols+j] }

// Set stores v at (i, j).
func (d *Dense) Set(i, j int, v int64) { d.data[i*d.cols+j] = v }

// Row returns a view of row i.
func (d *Dense) Row(i int) []int64 { return d.data[i*d.cols : (i+1)*d.cols] }

// Device returns where the tensor currently lives.
func (d *Dense) Device() Device { return d.device }

// To returns the tensor tagged with the target device. Data is shared;
// the tag tells the consumer where computation should run.
func (d *Dense) To(dev Device) Placeable {
	if d.device == dev {
		return d
	}
	return &Dense{rows: d.rows, cols: d.cols, data: d.data, device: dev}
}

// SliceRows returns a view over rows [from, to).
func (d *Dense) SliceRows(from, to int) *Dense {
	return &Dense{
		rows:   to - from,
		cols:   d.cols,
		data:   d.data[from*d.cols : to*d.cols],
		device: d.device,
	}
}
