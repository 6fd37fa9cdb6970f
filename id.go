package tokenvault

import "github.com/xraph/tokenvault/id"

// ID is the primary identifier type for all tokenvault records.
type ID = id.ID

// Prefix identifies the record type encoded in a TypeID.
type Prefix = id.Prefix
