package job

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"strideos/internal/config"
	"strideos/internal/kernel"
	"strideos/internal/mm"
	"strideos/internal/syscalls"
)

// Program is a user program the kernel can spawn.
type Program func(u *kernel.User)

// scratch is where workloads keep their buffers: the last page of the data
// region, which every task gets from the loader.
func scratch(u *kernel.User) mm.VirtAddr {
	return u.Task().Memory.HeapBottom() - mm.PageSize
}

// Build turns a configured workload into a program.
func Build(ts config.TaskSpec) (Program, error) {
	switch ts.Kind {
	case "", "spin":
		return Spin(ts.Rounds), nil
	case "clock":
		return Clock(ts.Rounds), nil
	case "memory":
		return Memory(ts.Rounds), nil
	case "info":
		return Info(ts.Rounds), nil
	default:
		return nil, errors.Newf("unknown workload kind %q for task %q", ts.Kind, ts.Name)
	}
}

// Spin yields rounds times and reports how often it ran.
func Spin(rounds int) Program {
	return func(u *kernel.User) {
		for i := 0; i < rounds; i++ {
			u.Yield()
		}
		u.Print(scratch(u), fmt.Sprintf("[pid %d] spun %d rounds\n", u.GetPid(), rounds))
	}
}

// Clock reads the time every round and reports the spread it saw.
func Clock(rounds int) Program {
	return func(u *kernel.User) {
		at := scratch(u)
		u.GetTime(at)
		first := u.LoadTimeVal(at).Micros()
		last := first
		for i := 0; i < rounds; i++ {
			u.Yield()
			u.GetTime(at)
			last = u.LoadTimeVal(at).Micros()
		}
		u.Print(at+64, fmt.Sprintf("[pid %d] clock advanced %dus over %d rounds\n", u.GetPid(), last-first, rounds))
	}
}

// Memory grows the heap, maps and unmaps a region and touches both every
// round. A failed call ends the task with exit code 1.
func Memory(rounds int) Program {
	const region = 0x4000_0000
	return func(u *kernel.User) {
		for i := 0; i < rounds; i++ {
			brk := u.Sbrk(mm.PageSize)
			if brk < 0 {
				u.Exit(1)
			}
			u.Store(mm.VirtAddr(brk), []byte{byte(i)})

			if u.Mmap(region, 2*mm.PageSize, uint64(mm.PermR|mm.PermW)) < 0 {
				u.Exit(1)
			}
			u.Store(region+mm.PageSize-1, []byte{byte(i), byte(i)})
			if u.Munmap(region, 2*mm.PageSize) < 0 {
				u.Exit(1)
			}
			u.Yield()
		}
		u.Print(scratch(u), fmt.Sprintf("[pid %d] heap break at %#x\n", u.GetPid(), u.Sbrk(0)))
	}
}

// Info yields and then reports its own task_info record.
func Info(rounds int) Program {
	return func(u *kernel.User) {
		for i := 0; i < rounds; i++ {
			u.Yield()
		}
		at := scratch(u)
		u.TaskInfo(at)
		info := u.LoadTaskInfo(at)
		u.Print(at+mm.PageSize/2, fmt.Sprintf("[pid %d] ran %dms, %d yields, %d task_info\n",
			u.GetPid(), info.Time, info.SyscallTimes[syscalls.SysYield], info.SyscallTimes[syscalls.SysTaskInfo]))
	}
}

// SpawnAll builds and spawns every configured workload.
func SpawnAll(k *kernel.Kernel, tasks []config.TaskSpec) error {
	for _, ts := range tasks {
		prog, err := Build(ts)
		if err != nil {
			return err
		}
		if _, err := k.Spawn(ts.Name, ts.Priority, prog); err != nil {
			return err
		}
	}
	return nil
}
