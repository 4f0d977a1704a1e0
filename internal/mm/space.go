// internal/mm/space.go

package mm

import (
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/emirpasic/gods/maps/treemap"
)

// MaxMapPages caps a single mmap request.
const MaxMapPages = 1 << 16

// Token identifies one address space to the translator.
type Token uint64

type areaKind uint8

const (
	areaData areaKind = iota
	areaHeap
	areaMmap
)

type page struct {
	data []byte
	perm Perm
	kind areaKind
}

// Layout describes what the loader maps when an address space is built.
type Layout struct {
	Base         VirtAddr // first byte of the data region, page aligned
	Pages        int      // data region size in pages
	MaxHeapPages int      // how far the break may grow above the data region
}

// AddressSpace is one process's user memory: a data region placed by the
// loader, a heap that follows it and moves with the program break, and any
// number of mmap regions.
type AddressSpace struct {
	mu          sync.Mutex
	token       Token
	pages       *treemap.Map // VPN -> *page, ordered
	heapBottom  VirtAddr
	brk         VirtAddr
	heapCeiling VirtAddr
}

// NewAddressSpace builds an address space with the data region of layout mapped.
func NewAddressSpace(token Token, layout Layout) (*AddressSpace, error) {
	if !layout.Base.Aligned() {
		return nil, errors.Wrapf(ErrUnaligned, "data region base %s", layout.Base)
	}
	if layout.Pages < 0 || layout.MaxHeapPages < 0 {
		return nil, errors.Newf("invalid layout %+v", layout)
	}

	as := &AddressSpace{
		token: token,
		pages: treemap.NewWith(vpnCmp),
	}
	base := layout.Base.Floor()
	for i := 0; i < layout.Pages; i++ {
		as.mapPage(base+VPN(i), PermR|PermW|PermU, areaData)
	}
	as.heapBottom = (base + VPN(layout.Pages)).Addr()
	as.brk = as.heapBottom
	as.heapCeiling = as.heapBottom + VirtAddr(layout.MaxHeapPages)*PageSize
	return as, nil
}

// Token returns the translator token of the address space.
func (as *AddressSpace) Token() Token { return as.token }

// Brk returns the current program break.
func (as *AddressSpace) Brk() VirtAddr {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.brk
}

// HeapBottom returns the lowest address the break may shrink to.
func (as *AddressSpace) HeapBottom() VirtAddr { return as.heapBottom }

// MappedPages returns the number of pages currently backed.
func (as *AddressSpace) MappedPages() int {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.pages.Size()
}

func (as *AddressSpace) mapPage(vpn VPN, perm Perm, kind areaKind) {
	as.pages.Put(vpn, &page{data: make([]byte, PageSize), perm: perm, kind: kind})
}

// overlaps reports whether any page in [start, end) is mapped.
func (as *AddressSpace) overlaps(start, end VPN) bool {
	k, _ := as.pages.Ceiling(start)
	return k != nil && k.(VPN) < end
}

// Mmap maps [start, start+length) with the given port bits, rounded out to
// whole pages, and returns the number of bytes mapped.
func (as *AddressSpace) Mmap(start VirtAddr, length uint64, port Perm) (uint64, error) {
	if !start.Aligned() {
		return 0, errors.Wrapf(ErrUnaligned, "mmap at %s", start)
	}
	if length == 0 {
		return 0, nil
	}
	if length > math.MaxUint64-uint64(start) {
		return 0, errors.Wrapf(ErrOverlap, "mmap at %s length %d wraps", start, length)
	}
	startVPN, endVPN := start.Floor(), (start + VirtAddr(length)).Ceil()
	if endVPN-startVPN > MaxMapPages {
		return 0, errors.Wrapf(ErrNoMemory, "mmap of %d bytes", length)
	}

	as.mu.Lock()
	defer as.mu.Unlock()
	if as.overlaps(startVPN, endVPN) {
		return 0, errors.Wrapf(ErrOverlap, "mmap [%s, %s)", startVPN.Addr(), endVPN.Addr())
	}
	for vpn := startVPN; vpn < endVPN; vpn++ {
		as.mapPage(vpn, (port&PortMask)|PermU, areaMmap)
	}
	return uint64(endVPN-startVPN) * PageSize, nil
}

// Munmap removes the mmap pages covering [start, start+length). Every page in
// the range must have been created by Mmap; otherwise nothing is unmapped.
func (as *AddressSpace) Munmap(start VirtAddr, length uint64) (uint64, error) {
	if !start.Aligned() {
		return 0, errors.Wrapf(ErrUnaligned, "munmap at %s", start)
	}
	if length == 0 {
		return 0, nil
	}
	if length > math.MaxUint64-uint64(start) {
		return 0, errors.Wrapf(ErrNotMapped, "munmap at %s length %d wraps", start, length)
	}
	startVPN, endVPN := start.Floor(), (start + VirtAddr(length)).Ceil()

	as.mu.Lock()
	defer as.mu.Unlock()
	for vpn := startVPN; vpn < endVPN; vpn++ {
		v, ok := as.pages.Get(vpn)
		if !ok || v.(*page).kind != areaMmap {
			return 0, errors.Wrapf(ErrNotMapped, "munmap page %s", vpn.Addr())
		}
	}
	for vpn := startVPN; vpn < endVPN; vpn++ {
		as.pages.Remove(vpn)
	}
	return uint64(endVPN-startVPN) * PageSize, nil
}

// ChangeBrk moves the program break by size bytes and returns the previous
// break. The break never drops below the heap bottom nor rises above the
// heap ceiling.
func (as *AddressSpace) ChangeBrk(size int32) (VirtAddr, error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	old := as.brk
	next := int64(old) + int64(size)
	if next < int64(as.heapBottom) || next > int64(as.heapCeiling) {
		return 0, errors.Wrapf(ErrBrkOutOfRange, "brk %s%+d outside [%s, %s]", old, size, as.heapBottom, as.heapCeiling)
	}

	oldEnd, newEnd := old.Ceil(), VirtAddr(next).Ceil()
	switch {
	case newEnd > oldEnd:
		if as.overlaps(oldEnd, newEnd) {
			return 0, errors.Wrapf(ErrOverlap, "heap growth to %s", VirtAddr(next))
		}
		for vpn := oldEnd; vpn < newEnd; vpn++ {
			as.mapPage(vpn, PermR|PermW|PermU, areaHeap)
		}
	case newEnd < oldEnd:
		for vpn := newEnd; vpn < oldEnd; vpn++ {
			as.pages.Remove(vpn)
		}
	}
	as.brk = VirtAddr(next)
	return old, nil
}

// Translate resolves n bytes at va into kernel-usable segments, one per page
// touched. Page permissions are not checked: the kernel may write anywhere
// the process has memory.
func (as *AddressSpace) Translate(va VirtAddr, n int) (UserBuffer, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.segments(va, n, 0)
}

// Load reads n bytes at va with user privileges.
func (as *AddressSpace) Load(va VirtAddr, n int) ([]byte, error) {
	as.mu.Lock()
	defer as.mu.Unlock()
	buf, err := as.segments(va, n, PermR|PermU)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	buf.ReadInto(out)
	return out, nil
}

// Store writes p at va with user privileges.
func (as *AddressSpace) Store(va VirtAddr, p []byte) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	buf, err := as.segments(va, len(p), PermW|PermU)
	if err != nil {
		return err
	}
	buf.WriteFrom(p)
	return nil
}

func (as *AddressSpace) segments(va VirtAddr, n int, need Perm) (UserBuffer, error) {
	if n < 0 {
		return UserBuffer{}, errors.Newf("negative length %d", n)
	}
	if uint64(n) > math.MaxUint64-uint64(va) {
		return UserBuffer{}, errors.Wrapf(ErrPageFault, "range at %s length %d wraps", va, n)
	}
	var segs [][]byte
	for cur, end := va, va+VirtAddr(n); cur < end; {
		v, ok := as.pages.Get(cur.Floor())
		if !ok {
			return UserBuffer{}, errors.Wrapf(ErrPageFault, "address %s", cur)
		}
		pg := v.(*page)
		if pg.perm&need != need {
			return UserBuffer{}, errors.Wrapf(ErrPermission, "address %s is %s, need %s", cur, pg.perm, need)
		}
		off := cur.PageOffset()
		chunk := PageSize - off
		if rest := uint64(end - cur); rest < chunk {
			chunk = rest
		}
		segs = append(segs, pg.data[off:off+chunk])
		cur += VirtAddr(chunk)
	}
	return UserBuffer{segments: segs}, nil
}
