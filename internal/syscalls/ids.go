package syscalls

import "strconv"

// ID is a syscall number as passed by user code.
type ID int

const (
	SysWrite       ID = 64
	SysExit        ID = 93
	SysYield       ID = 124
	SysSetPriority ID = 140
	SysGetTime     ID = 169
	SysGetPid      ID = 172
	SysSbrk        ID = 214
	SysMunmap      ID = 215
	SysMmap        ID = 222
	SysTaskInfo    ID = 410
)

// label names id for metrics. Every id the kernel does not implement shares
// one label so user code cannot grow the label set.
func (id ID) label() string {
	if id.known() {
		return id.String()
	}
	return "unknown"
}

func (id ID) known() bool {
	switch id {
	case SysWrite, SysExit, SysYield, SysSetPriority, SysGetTime,
		SysGetPid, SysSbrk, SysMunmap, SysMmap, SysTaskInfo:
		return true
	}
	return false
}

func (id ID) String() string {
	switch id {
	case SysWrite:
		return "write"
	case SysExit:
		return "exit"
	case SysYield:
		return "yield"
	case SysSetPriority:
		return "set_priority"
	case SysGetTime:
		return "get_time"
	case SysGetPid:
		return "getpid"
	case SysSbrk:
		return "sbrk"
	case SysMunmap:
		return "munmap"
	case SysMmap:
		return "mmap"
	case SysTaskInfo:
		return "task_info"
	default:
		return "unknown_" + strconv.Itoa(int(id))
	}
}
