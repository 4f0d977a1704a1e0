package kernel

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"strideos/internal/mm"
	"strideos/internal/sched"
	"strideos/internal/syscalls"
)

// User is what a user program sees: the syscall instruction and its own
// memory. Memory accesses run with user privileges and a faulting access
// kills the task.
type User struct {
	k    *Kernel
	task *sched.TaskControlBlock
}

// Task returns the task the program runs as.
func (u *User) Task() *sched.TaskControlBlock { return u.task }

// Syscall traps into the kernel.
func (u *User) Syscall(id syscalls.ID, a0, a1, a2 uint64) int64 {
	return u.k.syscalls.Dispatch(id, [3]uint64{a0, a1, a2})
}

// Exit never returns.
func (u *User) Exit(code int32) {
	u.Syscall(syscalls.SysExit, uint64(int64(code)), 0, 0)
	panic("unreachable after exit")
}

func (u *User) Yield() int64 {
	return u.Syscall(syscalls.SysYield, 0, 0, 0)
}

func (u *User) GetTime(ts mm.VirtAddr) int64 {
	return u.Syscall(syscalls.SysGetTime, uint64(ts), 0, 0)
}

func (u *User) TaskInfo(ti mm.VirtAddr) int64 {
	return u.Syscall(syscalls.SysTaskInfo, uint64(ti), 0, 0)
}

func (u *User) Mmap(start, length, port uint64) int64 {
	return u.Syscall(syscalls.SysMmap, start, length, port)
}

func (u *User) Munmap(start, length uint64) int64 {
	return u.Syscall(syscalls.SysMunmap, start, length, 0)
}

func (u *User) Sbrk(size int32) int64 {
	return u.Syscall(syscalls.SysSbrk, uint64(int64(size)), 0, 0)
}

func (u *User) SetPriority(prio int64) int64 {
	return u.Syscall(syscalls.SysSetPriority, uint64(prio), 0, 0)
}

func (u *User) GetPid() int64 {
	return u.Syscall(syscalls.SysGetPid, 0, 0, 0)
}

func (u *User) Write(fd uint64, buf mm.VirtAddr, length uint64) int64 {
	return u.Syscall(syscalls.SysWrite, fd, uint64(buf), length)
}

// Load reads n bytes of the program's own memory.
func (u *User) Load(va mm.VirtAddr, n int) []byte {
	b, err := u.task.Memory.Load(va, n)
	if err != nil {
		u.k.syscalls.Fault(u.task, err)
	}
	return b
}

// Store writes p to the program's own memory.
func (u *User) Store(va mm.VirtAddr, p []byte) {
	if err := u.task.Memory.Store(va, p); err != nil {
		u.k.syscalls.Fault(u.task, err)
	}
}

// Print stores s at scratch and writes it to stdout.
func (u *User) Print(scratch mm.VirtAddr, s string) int64 {
	u.Store(scratch, []byte(s))
	return u.Write(1, scratch, uint64(len(s)))
}

// LoadTimeVal decodes a TimeVal the kernel wrote at va.
func (u *User) LoadTimeVal(va mm.VirtAddr) syscalls.TimeVal {
	var tv syscalls.TimeVal
	u.decode(va, &tv)
	return tv
}

// LoadTaskInfo decodes a TaskInfo the kernel wrote at va.
func (u *User) LoadTaskInfo(va mm.VirtAddr) syscalls.TaskInfo {
	var ti syscalls.TaskInfo
	u.decode(va, &ti)
	return ti
}

func (u *User) decode(va mm.VirtAddr, v any) {
	size := binary.Size(v)
	if size < 0 {
		u.k.syscalls.Fault(u.task, errors.Newf("cannot decode %T from user memory", v))
	}
	raw := u.Load(va, size)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, v); err != nil {
		u.k.syscalls.Fault(u.task, errors.Wrapf(err, "decoding %T at %s", v, va))
	}
}
