// internal/mm/addr.go

package mm

import "fmt"

const (
	// PageSizeBits is log2(PageSize).
	PageSizeBits = 12
	// PageSize is the size of one user page in bytes.
	PageSize = 1 << PageSizeBits
)

// VirtAddr is a user virtual address.
type VirtAddr uint64

// VPN is a virtual page number.
type VPN uint64

// Floor returns the page containing va.
func (va VirtAddr) Floor() VPN { return VPN(va >> PageSizeBits) }

// Ceil returns the first page at or above va.
func (va VirtAddr) Ceil() VPN { return VPN((uint64(va) + PageSize - 1) >> PageSizeBits) }

// PageOffset is the offset of va within its page.
func (va VirtAddr) PageOffset() uint64 { return uint64(va) & (PageSize - 1) }

// Aligned reports whether va sits on a page boundary.
func (va VirtAddr) Aligned() bool { return va.PageOffset() == 0 }

func (va VirtAddr) String() string { return fmt.Sprintf("%#x", uint64(va)) }

// Addr returns the first address of the page.
func (vpn VPN) Addr() VirtAddr { return VirtAddr(uint64(vpn) << PageSizeBits) }

// Perm is a page permission set. The low three bits use the same layout as
// the mmap port argument.
type Perm uint8

const (
	PermR Perm = 1 << iota
	PermW
	PermX
	PermU
)

// PortMask covers the bits a user may request through mmap.
const PortMask = PermR | PermW | PermX

func (p Perm) String() string {
	b := []byte("----")
	if p&PermR != 0 {
		b[0] = 'r'
	}
	if p&PermW != 0 {
		b[1] = 'w'
	}
	if p&PermX != 0 {
		b[2] = 'x'
	}
	if p&PermU != 0 {
		b[3] = 'u'
	}
	return string(b)
}

// vpnCmp orders VPN keys in the page tree.
func vpnCmp(a, b any) int {
	va, vb := a.(VPN), b.(VPN)
	switch {
	case va < vb:
		return -1
	case va > vb:
		return 1
	default:
		return 0
	}
}
