// Package registry implements the registration map (C5): a specific
// replicated data type (C4) whose two operations, add and remove, keep
// every shard's local map of registration-id to pipeline descriptor in
// lock-step. It is grounded on
// distributed_registrations_dict.c's DistributedRegistrationsDict, with
// the FlatExecutionPlan/reader-trigger machinery generalized into the
// Reader collaborator interface the spec names.
package registry

import (
	"encoding/hex"
)

// IdLen is the width of a registration Id.
const IdLen = 16

// Id identifies one registration. It is comparable, so it keys maps
// directly.
type Id [IdLen]byte

func (id Id) String() string { return hex.EncodeToString(id[:]) }

// MakeId truncates or zero-pads b to IdLen.
func MakeId(b []byte) Id {
	var id Id
	copy(id[:], b)
	return id
}

// Reader is the collaborator (§6) the registration map asks to actually
// start and stop delivering events. The map neither inspects descriptor
// nor the events flowing through an installed pipeline.
type Reader interface {
	InstallPipeline(descriptor []byte, routingKey []byte) (handle interface{}, err error)
	TearDownPipeline(handle interface{})
}

// RemoveCompletion is stashed as additionalData on a Remove apply call
// and invoked, on the originating shard only, once the remove has been
// applied (or failed to find the id).
type RemoveCompletion func(ok bool, err error)

// DumpEntry is one row of a Dump: the read-only, local iteration a host
// exposes through the dump-registrations control surface.
type DumpEntry struct {
	Id          Id
	ReaderType  string
	Description string
}

type entry struct {
	readerType  string
	description string
	handle      interface{}
}
