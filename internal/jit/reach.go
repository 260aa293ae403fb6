package jit

// Reach is the host memory a native call may touch below and above its entry
// frame, callees included. Call graphs are acyclic, so it is finite and known
// once a method is compiled.
type Reach struct {
	Depth        int   `json:"depth"`         // nested native calls
	FrameBytes   int64 `json:"frame_bytes"`   // control frames pushed below the entry cfp
	ValueBytes   int64 `json:"value_bytes"`   // value stack used from the entry sp up
	MachineBytes int64 `json:"machine_bytes"` // hardware stack below the entry return address
}

// callSiteMachineBytes is what one call site pushes: the saved stack
// registers and the return address.
const callSiteMachineBytes = int64(len(stackRegs)+1) * 8

// addCall folds a call site passing argc arguments to a callee with reach
// callee into r.
func (r *Reach) addCall(l Layout, argc int, callee Reach) {
	vs := int64(l.ValueSize)
	r.Depth = max(r.Depth, callee.Depth+1)
	r.FrameBytes = max(r.FrameBytes, int64(l.FrameSize)+callee.FrameBytes)
	r.ValueBytes = max(r.ValueBytes, (int64(argc)+int64(l.EnvHeaderSlots))*vs+callee.ValueBytes)
	r.MachineBytes = max(r.MachineBytes, callSiteMachineBytes+callee.MachineBytes)
}
