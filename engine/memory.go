package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	host "github.com/wippyai/component-host"
)

// Exported function names of the in-guest allocator convention.
const (
	allocExport = "alloc"
	freeExport  = "free"
)

// guestMemory wraps wazero memory to implement host.Memory.
type guestMemory struct {
	mem api.Memory
}

func (m *guestMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *guestMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *guestMemory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds")
	}
	return val, nil
}

func (m *guestMemory) ReadU64(offset uint32) (uint64, error) {
	val, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds")
	}
	return val, nil
}

func (m *guestMemory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return fmt.Errorf("write out of bounds")
	}
	return nil
}

func (m *guestMemory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return fmt.Errorf("write out of bounds")
	}
	return nil
}

// guestAllocator drives a guest's exported alloc/free functions. The stack
// buffer is reused across calls; the mutex keeps concurrent string lowering
// from interleaving on it.
type guestAllocator struct {
	allocFn  api.Function
	freeFn   api.Function
	freeArgs int
	mu       sync.Mutex
	stackBuf [3]uint64
}

func newGuestAllocator(instance api.Module) *guestAllocator {
	a := &guestAllocator{
		allocFn: instance.ExportedFunction(allocExport),
	}
	if def := instance.ExportedFunctionDefinitions()[freeExport]; def != nil {
		a.freeFn = instance.ExportedFunction(freeExport)
		a.freeArgs = len(def.ParamTypes())
	}
	return a
}

// alloc calls the guest's simple allocator, which takes only a size;
// guests over-align internally.
func (a *guestAllocator) alloc(ctx context.Context, size, _ uint32) (uint32, error) {
	if a.allocFn == nil {
		return 0, fmt.Errorf("no allocator exported")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stackBuf[0] = uint64(size)
	if err := a.allocFn.CallWithStack(ctx, a.stackBuf[:1]); err != nil {
		return 0, err
	}
	ptr := uint32(a.stackBuf[0])
	if ptr == 0 {
		return 0, fmt.Errorf("guest allocator returned null for %d bytes", size)
	}
	return ptr, nil
}

func (a *guestAllocator) free(ctx context.Context, ptr, size, align uint32) {
	if a.freeFn == nil || ptr == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stackBuf[0] = uint64(ptr)
	a.stackBuf[1] = uint64(size)
	a.stackBuf[2] = uint64(align)
	if err := a.freeFn.CallWithStack(ctx, a.stackBuf[:a.freeArgs]); err != nil {
		host.Logger().Warn("guest free failed",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

// ctxAllocator binds a guestAllocator to the context of one call, giving
// codec the context-free host.Allocator it expects.
type ctxAllocator struct {
	a   *guestAllocator
	ctx context.Context
}

func (c ctxAllocator) Alloc(size, align uint32) (uint32, error) {
	return c.a.alloc(c.ctx, size, align)
}

func (c ctxAllocator) Free(ptr, size, align uint32) {
	c.a.free(c.ctx, ptr, size, align)
}

var _ host.Memory = (*guestMemory)(nil)
var _ host.Allocator = ctxAllocator{}
