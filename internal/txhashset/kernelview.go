package txhashset

import (
	"github.com/grinchain/node/internal/chaintypes"
	"github.com/grinchain/node/internal/mmr"
)

// RewindableKernelView is a read-only cursor over the kernel MMR that can
// be walked backward one header at a time without ever truncating the
// backing file, used by fork-choice comparisons that need a kernel root
// as of an ancestor header while the canonical Extension stays untouched
// (SPEC_FULL supplement #1; spec §4.5 rewindable_kernel_view).
type RewindableKernelView struct {
	tree *mmr.Tree
	size uint64
}

// RewindableKernelView opens a cursor positioned at header's declared
// kernel MMR size.
func (t *TxHashSet) RewindableKernelView(header *chaintypes.BlockHeader) *RewindableKernelView {
	return &RewindableKernelView{tree: t.kernelTree, size: header.KernelMMRSize}
}

// Rewind moves the cursor back to prevHeader's declared kernel MMR size.
// This only adjusts the cursor's bookkeeping; the underlying kernel file
// is never truncated.
func (v *RewindableKernelView) Rewind(prevHeader *chaintypes.BlockHeader) {
	v.size = prevHeader.KernelMMRSize
}

// Size returns the cursor's current kernel MMR size.
func (v *RewindableKernelView) Size() uint64 { return v.size }

// Root computes the bagged kernel root at the cursor's current size.
func (v *RewindableKernelView) Root() (chaintypes.Hash, error) {
	h, err := v.tree.RootAt(v.size)
	return chaintypes.Hash(h), err
}
