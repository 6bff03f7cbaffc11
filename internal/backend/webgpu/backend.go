// Package webgpu implements the solver backend on a GPU through WebGPU.
// Uses go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU
// bindings.
//
// The device exposes a single ordered queue, so the three conceptual
// streams — compute, copy, reset — are host-side exec queues that
// serialize their command submissions onto it. Device-side ordering
// follows submission order; the cross-stage ordering the pipeline needs is
// enforced by the per-slot events, and the host blocks only where the
// driver waits on a drain.
package webgpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"

	"github.com/hpcresearch-ht/jacobi/internal/exec"
	"github.com/hpcresearch-ht/jacobi/internal/grid"
)

// slot is one residual accumulator on the device: a 4-byte storage scalar,
// a mappable staging buffer backing the host mirror, the bind group of the
// combine pass targeting it, and the three stage-completion events.
type slot struct {
	value   *wgpu.Buffer
	staging *wgpu.Buffer
	mirror  float32

	combineBind *wgpu.BindGroup

	writeDone *exec.Event
	copyDone  *exec.Event
	resetDone *exec.Event
}

// Backend implements solver.Backend on a WebGPU device.
type Backend struct {
	instance    *wgpu.Instance
	adapter     *wgpu.Adapter
	device      *wgpu.Device
	queue       *wgpu.Queue
	adapterInfo *wgpu.AdapterInfoGo

	// Policy selects the device-failure handling; see FailPolicy.
	Policy FailPolicy

	nx, ny   int
	wgX, wgY uint32 // stencil dispatch dimensions
	initWG   uint32 // boundary-init dispatch dimension

	// Grid storage. The current/next roles rotate over bufA/bufB via
	// flip; Swap never copies data.
	bufA, bufB *wgpu.Buffer
	flip       bool

	partials *wgpu.Buffer // one float32 per stencil workgroup
	zero     *wgpu.Buffer // persistent zeroed source for slot resets

	initParams    *wgpu.Buffer
	stencilParams *wgpu.Buffer
	combineParams *wgpu.Buffer

	initPipeline    *wgpu.ComputePipeline
	stencilPipeline *wgpu.ComputePipeline
	combinePipeline *wgpu.ComputePipeline

	initBind *wgpu.BindGroup
	// stencilBind[0] reads bufA and writes bufB; [1] is the reverse.
	stencilBind [2]*wgpu.BindGroup

	slots [2]*slot

	compute *exec.Queue
	copy    *exec.Queue
	reset   *exec.Queue

	// Serializes submissions to the device queue across the three host
	// queues.
	submitMu sync.Mutex
}

// New creates a WebGPU backend for an nx × ny grid. All device resources
// are allocated here, once; nothing is reallocated during a run.
// Returns an error if WebGPU is not available or initialization fails.
func New(nx, ny int) (backend *Backend, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			backend = nil
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance, instanceErr := wgpu.CreateInstance(nil)
	if instanceErr != nil {
		return nil, fmt.Errorf("webgpu: failed to create instance: %w", instanceErr)
	}
	adapter, adapterErr := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if adapterErr != nil {
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request adapter: %w", adapterErr)
	}
	adapterInfo, _ := adapter.GetInfo()

	device, deviceErr := adapter.RequestDevice(nil)
	if deviceErr != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to request device: %w", deviceErr)
	}
	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("webgpu: failed to get queue")
	}

	b := &Backend{
		instance:    instance,
		adapter:     adapter,
		device:      device,
		queue:       queue,
		adapterInfo: adapterInfo,
		nx:          nx,
		ny:          ny,
		compute:     exec.NewQueue("compute"),
		copy:        exec.NewQueue("copy"),
		reset:       exec.NewQueue("reset"),
	}
	b.setup()
	return b, nil
}

// setup compiles the shaders and allocates every buffer and bind group of
// the run.
func (b *Backend) setup() {
	nx, ny := b.nx, b.ny
	b.wgX = uint32((nx + blockDimX - 1) / blockDimX)
	b.wgY = uint32((ny + blockDimY - 1) / blockDimY)
	b.initWG = uint32((ny + 127) / 128)

	b.initPipeline = b.compilePipeline(initShader)
	b.stencilPipeline = b.compilePipeline(stencilShader)
	b.combinePipeline = b.compilePipeline(combineShader)

	// WebGPU zero-initializes buffers, which covers the interior cells
	// and the initial accumulator values.
	gridSize := uint64(nx) * uint64(ny) * 4
	gridUsage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc
	b.bufA = b.device.CreateBuffer(&wgpu.BufferDescriptor{Usage: gridUsage, Size: gridSize})
	b.bufB = b.device.CreateBuffer(&wgpu.BufferDescriptor{Usage: gridUsage, Size: gridSize})

	numPartials := uint64(b.wgX) * uint64(b.wgY)
	b.partials = b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage,
		Size:  numPartials * 4,
	})
	b.zero = b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageCopySrc,
		Size:  4,
	})

	initP := make([]byte, 16)
	binary.LittleEndian.PutUint32(initP[0:4], uint32(nx))
	binary.LittleEndian.PutUint32(initP[4:8], uint32(ny))
	b.initParams = b.createUniformBuffer(initP)

	iyStart, iyEnd := grid.InteriorRows(ny)
	stencilP := make([]byte, 16)
	binary.LittleEndian.PutUint32(stencilP[0:4], uint32(nx))
	binary.LittleEndian.PutUint32(stencilP[4:8], uint32(iyStart))
	binary.LittleEndian.PutUint32(stencilP[8:12], uint32(iyEnd))
	b.stencilParams = b.createUniformBuffer(stencilP)

	combineP := make([]byte, 16)
	binary.LittleEndian.PutUint32(combineP[0:4], uint32(numPartials))
	b.combineParams = b.createUniformBuffer(combineP)

	initLayout := b.initPipeline.GetBindGroupLayout(0)
	b.initBind = b.device.CreateBindGroupSimple(initLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, b.bufA, 0, gridSize),
		wgpu.BufferBindingEntry(1, b.bufB, 0, gridSize),
		wgpu.BufferBindingEntry(2, b.initParams, 0, 16),
	})

	stencilLayout := b.stencilPipeline.GetBindGroupLayout(0)
	for i, bufs := range [2][2]*wgpu.Buffer{{b.bufA, b.bufB}, {b.bufB, b.bufA}} {
		b.stencilBind[i] = b.device.CreateBindGroupSimple(stencilLayout, []wgpu.BindGroupEntry{
			wgpu.BufferBindingEntry(0, bufs[0], 0, gridSize),
			wgpu.BufferBindingEntry(1, bufs[1], 0, gridSize),
			wgpu.BufferBindingEntry(2, b.partials, 0, numPartials*4),
			wgpu.BufferBindingEntry(3, b.stencilParams, 0, 16),
		})
	}

	combineLayout := b.combinePipeline.GetBindGroupLayout(0)
	for i := range b.slots {
		value := b.device.CreateBuffer(&wgpu.BufferDescriptor{
			Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
			Size:  4,
		})
		staging := b.device.CreateBuffer(&wgpu.BufferDescriptor{
			Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
			Size:  4,
		})
		b.slots[i] = &slot{
			value:   value,
			staging: staging,
			// Seeded non-zero so a norm read that precedes the first
			// completed drain does not compare as converged.
			mirror: 1.0,
			combineBind: b.device.CreateBindGroupSimple(combineLayout, []wgpu.BindGroupEntry{
				wgpu.BufferBindingEntry(0, b.partials, 0, numPartials*4),
				wgpu.BufferBindingEntry(1, value, 0, 4),
				wgpu.BufferBindingEntry(2, b.combineParams, 0, 16),
			}),
			writeDone: exec.NewEvent(),
			copyDone:  exec.NewEvent(),
			resetDone: exec.NewEvent(),
		}
	}
}

// compilePipeline compiles WGSL shader code into a compute pipeline with
// an auto layout. The shader module is released once the pipeline holds
// it.
func (b *Backend) compilePipeline(code string) *wgpu.ComputePipeline {
	shader := b.device.CreateShaderModuleWGSL(code)
	defer shader.Release()
	return b.device.CreateComputePipelineSimple(nil, shader, "main")
}

// createUniformBuffer creates a uniform buffer with proper alignment.
// Uniform buffers require 16-byte alignment for struct fields.
func (b *Backend) createUniformBuffer(data []byte) *wgpu.Buffer {
	size := uint64(len(data))
	alignedSize := (size + 15) &^ 15

	buffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		Size:             alignedSize,
		MappedAtCreation: wgpu.True,
	})
	mappedPtr := buffer.GetMappedRange(0, alignedSize)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), alignedSize)
	copy(mappedSlice, data)
	buffer.Unmap()

	return buffer
}

// submit serializes a command buffer onto the device queue.
func (b *Backend) submit(cmd *wgpu.CommandBuffer) {
	b.submitMu.Lock()
	b.queue.Submit(cmd)
	b.submitMu.Unlock()
}

// orientation selects the stencil bind group reading the current grid.
func (b *Backend) orientation() int {
	if b.flip {
		return 1
	}
	return 0
}

// current returns the buffer bound to the current role.
func (b *Backend) current() *wgpu.Buffer {
	if b.flip {
		return b.bufB
	}
	return b.bufA
}

// next returns the buffer bound to the next role.
func (b *Backend) next() *wgpu.Buffer {
	if b.flip {
		return b.bufA
	}
	return b.bufB
}

// Name returns the backend name.
func (b *Backend) Name() string {
	if b.adapterInfo != nil {
		return fmt.Sprintf("WebGPU (%s %s)", b.adapterInfo.Device, b.adapterInfo.Vendor)
	}
	return "WebGPU"
}

// InitBoundaries runs the boundary-init kernel over both buffers and waits
// for it.
func (b *Backend) InitBoundaries() error {
	encoder := b.device.CreateCommandEncoder(nil)
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(b.initPipeline)
	pass.SetBindGroup(0, b.initBind, nil)
	pass.DispatchWorkgroups(b.initWG, 1, 1)
	pass.End()
	b.submit(encoder.Finish(nil))
	return b.fence()
}

// Stencil enqueues, on the compute queue, one command buffer holding the
// fused sweep+block-reduction pass and the combine pass that folds the
// workgroup partials into slot parity. Gated on the slot's last reset; the
// bind group orientation is captured at submit time so a following Swap
// cannot retarget it.
func (b *Backend) Stencil(parity int) {
	s := b.slots[parity]
	stencilBind := b.stencilBind[b.orientation()]
	b.compute.Submit([]*exec.Event{s.resetDone}, s.writeDone, func() {
		encoder := b.device.CreateCommandEncoder(nil)

		pass := encoder.BeginComputePass(nil)
		pass.SetPipeline(b.stencilPipeline)
		pass.SetBindGroup(0, stencilBind, nil)
		pass.DispatchWorkgroups(b.wgX, b.wgY, 1)
		pass.End()

		combine := encoder.BeginComputePass(nil)
		combine.SetPipeline(b.combinePipeline)
		combine.SetBindGroup(0, s.combineBind, nil)
		combine.DispatchWorkgroups(1, 1, 1)
		combine.End()

		b.submit(encoder.Finish(nil))
	})
}

// Drain enqueues, on the copy queue, the device-to-host transfer of slot
// parity's value: copy into the slot's staging buffer, map it, and store
// the scalar in the host mirror. Returns the slot's copy-done event.
func (b *Backend) Drain(parity int) *exec.Event {
	s := b.slots[parity]
	b.copy.Submit([]*exec.Event{s.writeDone}, s.copyDone, func() {
		encoder := b.device.CreateCommandEncoder(nil)
		encoder.CopyBufferToBuffer(s.value, 0, s.staging, 0, 4)
		b.submit(encoder.Finish(nil))

		if err := b.mapRead(s.staging, &s.mirror); err != nil {
			b.check("copy accumulator to host mirror", err)
		}
	})
	return s.copyDone
}

// mapRead maps a 4-byte staging buffer and reads the float32 it holds.
func (b *Backend) mapRead(staging *wgpu.Buffer, out *float32) error {
	if err := staging.MapAsync(b.device, wgpu.MapModeRead, 0, 4); err != nil {
		return err
	}
	mappedPtr := staging.GetMappedRange(0, 4)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), 4)
	*out = math.Float32frombits(binary.LittleEndian.Uint32(mappedSlice))
	staging.Unmap()
	return nil
}

// Mirror returns slot parity's host mirror.
func (b *Backend) Mirror(parity int) float32 { return b.slots[parity].mirror }

// Reset zeroes slot parity's mirror now and enqueues, on the reset queue,
// a copy from the persistent zero buffer over the slot's device value,
// ordered after the slot's last drain.
func (b *Backend) Reset(parity int) {
	s := b.slots[parity]
	s.mirror = 0
	b.reset.Submit([]*exec.Event{s.copyDone}, s.resetDone, func() {
		encoder := b.device.CreateCommandEncoder(nil)
		encoder.CopyBufferToBuffer(b.zero, 0, s.value, 0, 4)
		b.submit(encoder.Finish(nil))
	})
}

// Swap exchanges the current/next grid roles by flipping the bind group
// orientation.
func (b *Backend) Swap() { b.flip = !b.flip }

// Synchronize drains the three host queues, then round-trips a fence
// through the device queue so all submitted device work has completed.
func (b *Backend) Synchronize() error {
	b.compute.Sync()
	b.copy.Sync()
	b.reset.Sync()
	return b.fence()
}

// fence copies the zero buffer through a fresh staging buffer and maps it.
// Mapping completes only after everything previously submitted to the
// device queue has executed.
func (b *Backend) fence() error {
	staging := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  4,
	})
	defer staging.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(b.zero, 0, staging, 0, 4)
	b.submit(encoder.Finish(nil))

	var scratch float32
	return b.mapRead(staging, &scratch)
}

// readBuffer reads data back from a GPU buffer to CPU memory.
// Uses a staging buffer since storage buffers can't be mapped directly.
func (b *Backend) readBuffer(srcBuffer *wgpu.Buffer, size uint64) ([]byte, error) {
	stagingBuffer := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer stagingBuffer.Release()

	encoder := b.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(srcBuffer, 0, stagingBuffer, 0, size)
	b.submit(encoder.Finish(nil))

	if err := stagingBuffer.MapAsync(b.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("failed to map staging buffer: %w", err)
	}
	mappedPtr := stagingBuffer.GetMappedRange(0, size)
	mappedSlice := unsafe.Slice((*byte)(mappedPtr), size)
	result := make([]byte, size)
	copy(result, mappedSlice)
	stagingBuffer.Unmap()

	return result, nil
}

// ReadGrid returns host copies of the current and next grid buffers.
func (b *Backend) ReadGrid() (current, next []float32, err error) {
	if err := b.Synchronize(); err != nil {
		return nil, nil, err
	}
	size := uint64(b.nx) * uint64(b.ny) * 4

	curRaw, err := b.readBuffer(b.current(), size)
	if err != nil {
		return nil, nil, err
	}
	nextRaw, err := b.readBuffer(b.next(), size)
	if err != nil {
		return nil, nil, err
	}
	return bytesToFloat32(curRaw), bytesToFloat32(nextRaw), nil
}

func bytesToFloat32(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

// Release drains the queues and frees all device resources.
// Must be called when the backend is no longer needed.
func (b *Backend) Release() {
	b.compute.Close()
	b.copy.Close()
	b.reset.Close()

	for _, s := range b.slots {
		if s == nil {
			continue
		}
		s.combineBind.Release()
		s.staging.Release()
		s.value.Release()
	}
	for _, bg := range b.stencilBind {
		if bg != nil {
			bg.Release()
		}
	}
	if b.initBind != nil {
		b.initBind.Release()
	}
	for _, buf := range []*wgpu.Buffer{
		b.combineParams, b.stencilParams, b.initParams, b.zero, b.partials, b.bufB, b.bufA,
	} {
		if buf != nil {
			buf.Release()
		}
	}
	for _, p := range []*wgpu.ComputePipeline{b.combinePipeline, b.stencilPipeline, b.initPipeline} {
		if p != nil {
			p.Release()
		}
	}

	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.device != nil {
		b.device.Release()
		b.device = nil
	}
	if b.adapter != nil {
		b.adapter.Release()
		b.adapter = nil
	}
	if b.instance != nil {
		b.instance.Release()
		b.instance = nil
	}
}

// IsAvailable checks if WebGPU is available on this system.
func IsAvailable() (available bool) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance, instanceErr := wgpu.CreateInstance(nil)
	if instanceErr != nil {
		return false
	}
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()

	return true
}
