package engine

import "golang.org/x/sys/cpu"

// Feature is one CPU capability relevant to deep-learning kernels.
type Feature struct {
	Name    string
	Present bool
}

// Features reports the capabilities probed on the host architecture.
func Features() []Feature {
	if cpu.ARM64.HasASIMD || cpu.ARM64.HasFP {
		return []Feature{
			{Name: "asimd", Present: cpu.ARM64.HasASIMD},
			{Name: "asimddp", Present: cpu.ARM64.HasASIMDDP},
			{Name: "sve", Present: cpu.ARM64.HasSVE},
		}
	}

	return []Feature{
		{Name: "sse4.1", Present: cpu.X86.HasSSE41},
		{Name: "avx2", Present: cpu.X86.HasAVX2},
		{Name: "fma", Present: cpu.X86.HasFMA},
		{Name: "avx512f", Present: cpu.X86.HasAVX512F},
		{Name: "avx512vnni", Present: cpu.X86.HasAVX512VNNI},
		{Name: "avxvnni", Present: cpu.X86.HasAVXVNNI},
	}
}

// DetectISA names the best instruction set tier available, in the same
// vocabulary the library's verbose mode uses.
func DetectISA() string {
	switch {
	case cpu.X86.HasAVX512F && cpu.X86.HasAVX512VNNI:
		return "avx512_core_vnni"
	case cpu.X86.HasAVX512F:
		return "avx512_core"
	case cpu.X86.HasAVX2 && cpu.X86.HasAVXVNNI:
		return "avx2_vnni"
	case cpu.X86.HasAVX2:
		return "avx2"
	case cpu.X86.HasSSE41:
		return "sse41"
	case cpu.ARM64.HasSVE:
		return "sve"
	case cpu.ARM64.HasASIMD:
		return "asimd"
	default:
		return "generic"
	}
}
