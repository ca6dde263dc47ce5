package machine

// FuncInfo is the symbolic debug information for the function containing a
// code address.
type FuncInfo struct {
	Name  string
	File  string
	Line  int
	Start uint32
}

// Resolver maps a code address to debug information. Implementations must
// not fail: when no symbol covers the address they return a placeholder
// (see UnknownFuncInfo), so symbolization problems never abort an unwind.
type Resolver interface {
	Resolve(addr uint32) FuncInfo
}

// UnknownFuncInfo is the placeholder returned when no symbol covers addr.
// Start is the address itself so the computed in-function offset is zero.
func UnknownFuncInfo(addr uint32) FuncInfo {
	return FuncInfo{Name: "<unknown>", File: "<unknown>", Start: addr}
}

// FrameArgs is the number of argument words recorded per frame.
const FrameArgs = 5

// Stackframe is one frame of the frame-pointer chain. It is derived on the
// fly from the frame base: the return address sits one word above the base
// and the recorded arguments in the five words after that.
type Stackframe struct {
	// FrameBase is the saved frame-pointer anchor of this frame.
	FrameBase uint32
	// Ret is the address the function will return to.
	Ret uint32
	// Args are the five words at the conventional argument slots.
	Args [FrameArgs]uint32
	// Fn is the debug information resolved for Ret.
	Fn FuncInfo
}

// FnOffset returns the offset of the return address inside its function.
func (f Stackframe) FnOffset() uint32 {
	return f.Ret - f.Fn.Start
}

// StackIterator walks the frame-pointer chain. The chain carries no
// validity information: a corrupted or cyclic chain produces unbounded
// iteration unless maxDepth bounds it, and a frame base pointing at
// unmapped memory ends iteration with an error.
type StackIterator struct {
	mem      MemoryReader
	res      Resolver
	base     uint32
	frame    Stackframe
	depth    int
	maxDepth int
	err      error
}

// Unwind returns an iterator over the frame-pointer chain starting at
// frameBase. The sequence is finite when the chain is intact (it terminates
// at a null saved base) and is not restartable. maxDepth <= 0 means
// unbounded.
func Unwind(mem MemoryReader, res Resolver, frameBase uint32, maxDepth int) *StackIterator {
	return &StackIterator{mem: mem, res: res, base: frameBase, maxDepth: maxDepth}
}

// Next advances to the next frame. It returns false when the chain
// terminated, the depth bound was reached, or a read failed; Err
// distinguishes the last case.
func (it *StackIterator) Next() bool {
	if it.err != nil || it.base == 0 {
		return false
	}
	if it.maxDepth > 0 && it.depth >= it.maxDepth {
		return false
	}

	frame := Stackframe{FrameBase: it.base}
	var err error
	frame.Ret, err = ReadUint32(it.mem, it.base+4)
	if err != nil {
		it.err = err
		return false
	}
	for i := 0; i < FrameArgs; i++ {
		frame.Args[i], err = ReadUint32(it.mem, it.base+8+uint32(i)*4)
		if err != nil {
			it.err = err
			return false
		}
	}
	if it.res != nil {
		frame.Fn = it.res.Resolve(frame.Ret)
	} else {
		frame.Fn = UnknownFuncInfo(frame.Ret)
	}
	it.frame = frame
	it.depth++

	// The next older frame base is the word the current base points at; a
	// null value terminates the chain. The frame already built is still
	// delivered if this read fails.
	next, err := ReadUint32(it.mem, it.base)
	if err != nil {
		it.err = err
		it.base = 0
	} else {
		it.base = next
	}
	return true
}

// Frame returns the frame the iterator is pointing at.
func (it *StackIterator) Frame() Stackframe {
	return it.frame
}

// Err returns the error encountered during stack iteration, if any.
func (it *StackIterator) Err() error {
	return it.err
}

// Stacktrace collects up to maxDepth frames starting at frameBase.
func Stacktrace(mem MemoryReader, res Resolver, frameBase uint32, maxDepth int) ([]Stackframe, error) {
	it := Unwind(mem, res, frameBase, maxDepth)
	var frames []Stackframe
	for it.Next() {
		frames = append(frames, it.Frame())
	}
	return frames, it.Err()
}
