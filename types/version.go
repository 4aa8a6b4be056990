package types

// Version is the canonical project version.
// The CLI, the record store contract and the notification payloads all
// report this version.
const Version = "0.2.0"

// ContractVersion is the version stamped on stored records and published
// notifications. Bumped only when their shape changes.
const ContractVersion = "0.2.0"
