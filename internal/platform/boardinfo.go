package platform

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/tklauser/numcpus"
)

// Board is a read-only snapshot of the host the kernel is running on.
// Bare-metal board bring-up (clocks, pin muxing) is out of scope; this
// exists only so the hosted/sim dev adapter has something to log at
// boot, the same role the teacher's host inventory snapshot plays before
// a collection cycle starts.
type Board struct {
	Cores    int
	CPUModel string
	TotalRAM uint64
	AvailRAM uint64
}

// BoardInfo gathers a best-effort snapshot of the host machine. Every
// field defaults to its zero value on error; BoardInfo never fails since
// it is diagnostic-only and must not block boot.
func BoardInfo() Board {
	var b Board

	if n, err := numcpus.GetOnline(); err == nil {
		b.Cores = n
	}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		b.CPUModel = infos[0].ModelName
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		b.TotalRAM = vm.Total
		b.AvailRAM = vm.Available
	}

	return b
}
